package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestClient(t *testing.T, md MarketData) *MarketDataClient {
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewServer("binance", md, &ValidationServiceConfig{AvailableProviders: []string{"binance", "kucoin"}}, zap.NewNop()), zap.NewNop())
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewMarketDataClient(conn)
}

func mustStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestServer_GetState(t *testing.T) {
	md := newFakeMarketData()
	md.track("btc_usdt", connectedState())
	client := newTestClient(t, md)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := client.GetState(ctx, "BTC_USDT")
	require.NoError(t, err)

	fields := got.GetFields()
	assert.Equal(t, "btc_usdt", fields["symbol"].GetStringValue())
	assert.Equal(t, "50000.5", fields["price"].GetStringValue())
	assert.Equal(t, "connected", fields["connectionState"].GetStringValue())
	assert.True(t, fields["isConnected"].GetBoolValue())

	book := fields["orderBook"].GetStructValue().GetFields()
	assert.Equal(t, float64(1000), book["lastUpdateId"].GetNumberValue())
	assert.Len(t, book["bids"].GetListValue().GetValues(), 1)
}

func TestServer_Errors(t *testing.T) {
	md := newFakeMarketData()
	md.track("btc_usdt", connectedState())
	client := newTestClient(t, md)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"InvalidSymbol", func() error { _, err := client.GetState(ctx, "btcusdt"); return err }, codes.InvalidArgument},
		{"NotTracked", func() error { _, err := client.GetState(ctx, "eth_usdt"); return err }, codes.NotFound},
		{"AlreadyTracked", func() error { return client.Subscribe(ctx, "btc_usdt") }, codes.AlreadyExists},
		{"UnsubscribeUnknown", func() error { return client.Unsubscribe(ctx, "eth_usdt") }, codes.NotFound},
		{"RefreshUnknown", func() error { return client.Refresh(ctx, "eth_usdt") }, codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()

			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestServer_SubscribeRefreshUnsubscribe(t *testing.T) {
	md := newFakeMarketData()
	client := newTestClient(t, md)
	ctx := context.Background()

	require.NoError(t, client.Subscribe(ctx, "eth_usdt"))
	require.NoError(t, client.Refresh(ctx, "eth_usdt"))

	state, err := client.GetState(ctx, "eth_usdt")
	require.NoError(t, err)
	assert.True(t, state.GetFields()["isLoading"].GetBoolValue())

	require.NoError(t, client.Unsubscribe(ctx, "eth_usdt"))
	assert.Equal(t, []string{"eth_usdt"}, md.refresh)
	assert.Empty(t, md.Symbols())
}

func TestServer_GetOrderBookSnapshot(t *testing.T) {
	md := newFakeMarketData()
	md.snapshot = connectedState().OrderBook
	client := newTestClient(t, md)
	ctx := context.Background()

	got, err := client.GetOrderBookSnapshot(ctx, mustStruct(t, map[string]interface{}{
		"provider": "binance",
		"symbol":   "btc_usdt",
		"maxDepth": 20,
	}))
	require.NoError(t, err)
	assert.Equal(t, "LocalOrderBook", got.GetFields()["source"].GetStringValue())
	assert.Equal(t, 20, md.lastLimit)

	_, err = client.GetOrderBookSnapshot(ctx, mustStruct(t, map[string]interface{}{
		"provider": "kucoin",
		"symbol":   "btc_usdt",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	md.fail(errUpstream)
	_, err = client.GetOrderBookSnapshot(ctx, mustStruct(t, map[string]interface{}{"symbol": "btc_usdt"}))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestServer_GetDailyCandles(t *testing.T) {
	md := newFakeMarketData()
	md.candles = []domain.DailyCandle{candle("2024-01-01", "1.5"), candle("2024-01-02", "1.7")}
	client := newTestClient(t, md)
	ctx := context.Background()

	got, err := client.GetDailyCandles(ctx, mustStruct(t, map[string]interface{}{
		"symbol": "btc_usdt",
		"from":   "2024-01-01",
		"to":     "2024-01-02",
	}))
	require.NoError(t, err)

	candles := got.GetFields()["candles"].GetListValue().GetValues()
	require.Len(t, candles, 2)
	assert.Equal(t, "1.7", candles[1].GetStructValue().GetFields()["close"].GetStringValue())
	assert.Equal(t, "2024-01-01", md.lastFrom.Format(dateLayout))
	assert.Equal(t, "2024-01-02", md.lastTo.Format(dateLayout))

	_, err = client.GetDailyCandles(ctx, mustStruct(t, map[string]interface{}{
		"symbol": "btc_usdt",
		"from":   "2024-02-01",
		"to":     "2024-01-01",
	}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
