package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRestServer(t *testing.T, handler http.HandlerFunc) *BinanceSyncAPI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewBinanceSyncAPI(server.URL)
}

func TestBinanceSyncAPI_OrderBookSnapshot(t *testing.T) {
	api := newRestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"lastUpdateId":1027024,"bids":[["50000.00","1.5"],["49999.00","0.1"]],"asks":[["50100.00","2.0"]]}`)
	})

	snapshot, err := api.OrderBookSnapshot(context.Background(), symbol(t, "btc", "usdt"), 1000)

	require.NoError(t, err)
	assert.Equal(t, int64(1027024), snapshot.LastUpdateID)
	assert.Equal(t, "BTCUSDT", snapshot.Symbol)
	require.Len(t, snapshot.Bids, 2)
	require.Len(t, snapshot.Asks, 1)
	assert.Equal(t, "50000", snapshot.Bids[0].Price.String())
	assert.Equal(t, "1.5", snapshot.Bids[0].Quantity.String())
	assert.Equal(t, "2", snapshot.Asks[0].Quantity.String())
}

func TestBinanceSyncAPI_OrderBookSnapshot_Error(t *testing.T) {
	api := newRestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})

	_, err := api.OrderBookSnapshot(context.Background(), symbol(t, "xxx", "yyy"), 10)

	assert.Error(t, err)
}

func TestBinanceSyncAPI_DailyCandles(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	api := newRestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, fmt.Sprint(from.UnixMilli()), r.URL.Query().Get("startTime"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[
			[%d,"42283.58","44184.10","42180.77","44179.55","27174.29903",%d,"1169995682.6","1121734","13908.41","599000000.0","0"],
			[%d,"44179.55","45879.63","44148.34","44946.91","65146.40661",%d,"2922615823.5","2102384","33207.61","1490000000.0","0"]
		]`, from.UnixMilli(), from.UnixMilli()+86399999, to.UnixMilli(), to.UnixMilli()+86399999)
	})

	candles, err := api.DailyCandles(context.Background(), symbol(t, "btc", "usdt"), from, to)

	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, from, candles[0].Date)
	assert.Equal(t, "42283.58", candles[0].Open.String())
	assert.Equal(t, "44184.1", candles[0].High.String())
	assert.Equal(t, "44946.91", candles[1].Close.String())
	assert.Equal(t, "65146.40661", candles[1].Volume.String())
}

func TestBinanceSyncAPI_DailyCandles_InvalidRange(t *testing.T) {
	api := NewBinanceSyncAPI("http://127.0.0.1:0")
	now := time.Now()

	_, err := api.DailyCandles(context.Background(), symbol(t, "btc", "usdt"), now, now.Add(-time.Hour))

	assert.Error(t, err)
}
