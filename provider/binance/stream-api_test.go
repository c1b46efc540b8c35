package binance

import (
	"context"
	"testing"
	"time"

	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func symbol(t *testing.T, base, quote string) *domain.MarketSymbol {
	t.Helper()
	s, err := domain.NewMarketSymbol(base, quote)
	require.NoError(t, err)
	return s
}

func TestBinanceStreamAPI_URL(t *testing.T) {
	btc := symbol(t, "BTC", "USDT")

	tests := []struct {
		name       string
		depthSpeed string
		subs       []domain.Subscription
		expected   string
	}{
		{
			name: "DepthAndTicker",
			subs: []domain.Subscription{
				domain.NewSubscription(btc, domain.StreamType_Depth),
				domain.NewSubscription(btc, domain.StreamType_Ticker),
			},
			expected: "wss://stream.binance.com:9443/stream?streams=btcusdt@depth/btcusdt@ticker",
		},
		{
			name:       "AllTypes",
			depthSpeed: "100ms",
			subs: []domain.Subscription{
				domain.NewSubscription(btc, domain.StreamType_Depth),
				domain.NewSubscription(btc, domain.StreamType_Kline),
				domain.NewSubscription(btc, domain.StreamType_Trades),
			},
			expected: "wss://stream.binance.com:9443/stream?streams=btcusdt@depth@100ms/btcusdt@kline_1m/btcusdt@trade",
		},
		{
			name: "Duplicates",
			subs: []domain.Subscription{
				domain.NewSubscription(btc, domain.StreamType_Ticker),
				domain.NewSubscription(btc, domain.StreamType_Ticker),
			},
			expected: "wss://stream.binance.com:9443/stream?streams=btcusdt@ticker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := NewBinanceStreamAPI("", tt.depthSpeed)

			url, err := api.URL(context.Background(), tt.subs)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, url)
		})
	}

	_, err := NewBinanceStreamAPI("", "").URL(context.Background(), nil)
	assert.Error(t, err)
}

func TestBinanceStreamAPI_Decode(t *testing.T) {
	api := NewBinanceStreamAPI("", "")

	tests := []struct {
		name        string
		frame       string
		kind        domain.MessageKind
		expectError bool
	}{
		{
			name:  "CombinedDepth",
			frame: `{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":1672515782136,"s":"BTCUSDT","U":157,"u":160,"b":[["0.0024","10"]],"a":[["0.0026","100"]]}}`,
			kind:  domain.MessageKind_DepthUpdate,
		},
		{
			name:  "RawDepth",
			frame: `{"e":"depthUpdate","E":1672515782136,"s":"BTCUSDT","U":157,"u":160,"b":[],"a":[]}`,
			kind:  domain.MessageKind_DepthUpdate,
		},
		{
			name:  "CombinedTicker",
			frame: `{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1672515782136,"s":"BTCUSDT","p":"0.0015","P":"250.00","w":"0.0018","c":"0.0025","Q":"10","o":"0.0010","h":"0.0025","l":"0.0010","v":"10000","q":"18","O":0,"C":86400000,"F":0,"L":18150,"n":18151}}`,
			kind:  domain.MessageKind_Ticker,
		},
		{
			name:  "Kline",
			frame: `{"stream":"btcusdt@kline_1m","data":{"e":"kline","E":1672515782136,"s":"BTCUSDT","k":{}}}`,
			kind:  domain.MessageKind_Ignored,
		},
		{
			name:  "SubscriptionAck",
			frame: `{"result":null,"id":312}`,
			kind:  domain.MessageKind_Ignored,
		},
		{name: "NotJSON", frame: `hello`, expectError: true},
		{name: "Array", frame: `[1,2]`, expectError: true},
		{
			name:        "BadPrice",
			frame:       `{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"b":[["x","1"]],"a":[]}}`,
			expectError: true,
		},
		{
			name:        "BadTickerField",
			frame:       `{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"abc"}`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := api.Decode([]byte(tt.frame))

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
		})
	}
}

func TestBinanceStreamAPI_DecodeValues(t *testing.T) {
	api := NewBinanceStreamAPI("", "")

	msg, err := api.Decode([]byte(`{"stream":"btcusdt@depth","data":{"e":"depthUpdate","E":1672515782136,"s":"BTCUSDT","U":1001,"u":1002,"b":[["50000.00","0"],["49950","3.0"]],"a":[]}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Diff)
	assert.Equal(t, "BTCUSDT", msg.Diff.Symbol)
	assert.Equal(t, int64(1001), msg.Diff.FirstUpdateID)
	assert.Equal(t, int64(1002), msg.Diff.FinalUpdateID)
	require.Len(t, msg.Diff.BidChanges, 2)
	assert.True(t, msg.Diff.BidChanges[0].Quantity.IsZero())
	assert.Equal(t, "49950", msg.Diff.BidChanges[1].Price.String())
	assert.Empty(t, msg.Diff.AskChanges)
	assert.Equal(t, time.UnixMilli(1672515782136), msg.Diff.EventTime)

	msg, err = api.Decode([]byte(`{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1672515782136,"s":"BTCUSDT","p":"-12.5","P":"-0.025","c":"50000.10","v":"1234.5","C":86400000}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Ticker)
	assert.Equal(t, "50000.1", msg.Ticker.LastPrice.String(), "close time must not leak into last price")
	assert.Equal(t, "-0.025", msg.Ticker.PriceChangePercent.String(), "price change must not leak into percent")
	assert.Equal(t, "1234.5", msg.Ticker.Volume.String())
}

func TestBinanceStreamAPI_SymbolCode(t *testing.T) {
	api := NewBinanceStreamAPI("", "")
	assert.Equal(t, "BTCUSDT", api.SymbolCode(symbol(t, "btc", "usdt")))
	assert.Equal(t, "binance", api.ID())
	assert.Zero(t, api.PingInterval())
}
