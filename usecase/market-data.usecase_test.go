package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/spooky-finn/orderbook-sync/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConnManager struct {
	snapshots *fakeFetcher
	candles   []domain.DailyCandle
}

func (f *fakeConnManager) SnapshotFetcher(string) (domain.SnapshotFetcher, error) {
	return f.snapshots, nil
}

func (f *fakeConnManager) CandleFetcher(string) (domain.CandleFetcher, error) {
	return f, nil
}

func (f *fakeConnManager) DailyCandles(context.Context, *domain.MarketSymbol, time.Time, time.Time) ([]domain.DailyCandle, error) {
	return f.candles, nil
}

type marketDataFixture struct {
	uc      *MarketDataUseCase
	cm      *fakeConnManager
	streams []*fakeStream
}

func newMarketDataFixture(t *testing.T) *marketDataFixture {
	t.Helper()
	f := &marketDataFixture{cm: &fakeConnManager{snapshots: newFakeFetcher()}}
	newStream := func() (StreamConnection, error) {
		s := newFakeStream()
		f.streams = append(f.streams, s)
		return s, nil
	}
	f.uc = NewMarketDataUseCase("binance", f.cm, newStream, cache.New[CachedValue](100, time.Minute), CoordinatorConfig{}, nil, zap.NewNop())
	t.Cleanup(f.uc.Close)
	return f
}

func mustSymbol(t *testing.T, s string) *domain.MarketSymbol {
	t.Helper()
	symbol, err := domain.NewMarketSymbolFromString(s)
	require.NoError(t, err)
	return symbol
}

func TestMarketData_SubscribeUnsubscribe(t *testing.T) {
	f := newMarketDataFixture(t)
	btc := mustSymbol(t, "btc_usdt")
	eth := mustSymbol(t, "eth_usdt")

	require.NoError(t, f.uc.Subscribe(btc))
	require.NoError(t, f.uc.Subscribe(eth))
	assert.ErrorIs(t, f.uc.Subscribe(btc), ErrSymbolAlreadyTracked)
	assert.Equal(t, []string{"btc_usdt", "eth_usdt"}, f.uc.Symbols())
	require.Len(t, f.streams, 2, "one stream per symbol")
	assert.Equal(t, 1, f.streams[0].Connects())

	st, err := f.uc.State(btc)
	require.NoError(t, err)
	assert.Equal(t, "btc_usdt", st.Symbol)

	require.NoError(t, f.uc.Unsubscribe(btc))
	assert.ErrorIs(t, f.uc.Unsubscribe(btc), ErrSymbolNotTracked)
	_, err = f.uc.State(btc)
	assert.ErrorIs(t, err, ErrSymbolNotTracked)
	assert.Equal(t, domain.ConnectionState_Disconnected, f.streams[0].State())
}

func TestMarketData_ChangeSymbol(t *testing.T) {
	f := newMarketDataFixture(t)
	btc := mustSymbol(t, "btc_usdt")
	eth := mustSymbol(t, "eth_usdt")
	sol := mustSymbol(t, "sol_usdt")
	require.NoError(t, f.uc.Subscribe(btc))
	require.NoError(t, f.uc.Subscribe(sol))

	assert.ErrorIs(t, f.uc.ChangeSymbol(eth, btc), ErrSymbolNotTracked)
	assert.ErrorIs(t, f.uc.ChangeSymbol(btc, sol), ErrSymbolAlreadyTracked)
	require.NoError(t, f.uc.ChangeSymbol(btc, eth))

	assert.Equal(t, []string{"eth_usdt", "sol_usdt"}, f.uc.Symbols())
	require.Eventually(t, func() bool { return len(f.streams[0].Symbols()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"eth_usdt"}, f.streams[0].Symbols())
}

func TestMarketData_StateAfterChangeSymbolNeverServesPreviousSymbol(t *testing.T) {
	f := newMarketDataFixture(t)
	btc := mustSymbol(t, "btc_usdt")
	eth := mustSymbol(t, "eth_usdt")
	require.NoError(t, f.uc.Subscribe(btc))
	blocker := newBlockingListener(t)
	require.NoError(t, f.uc.AddListener(btc, blocker))

	f.streams[0].open()
	f.streams[0].emit(func(l domain.StreamListener) {
		l.OnTicker(&domain.TickerMessage{Symbol: "BTCUSDT", LastPrice: decimal.RequireFromString("50000")})
	})
	blocker.waitEntered(t)

	require.NoError(t, f.uc.ChangeSymbol(btc, eth))

	st, err := f.uc.State(eth)
	require.NoError(t, err)
	assert.Equal(t, "eth_usdt", st.Symbol)
	assert.False(t, st.Price.Valid)
	assert.Nil(t, st.OrderBook)

	_, err = f.uc.State(btc)
	assert.ErrorIs(t, err, ErrSymbolNotTracked)
}

func TestMarketData_OrderBookSnapshotFallsBackToProvider(t *testing.T) {
	f := newMarketDataFixture(t)
	btc := mustSymbol(t, "btc_usdt")
	require.NoError(t, f.uc.Subscribe(btc))

	done := make(chan *domain.OrderBookSnapshot, 1)
	go func() {
		snapshot, err := f.uc.OrderBookSnapshot(context.Background(), btc, 10)
		assert.NoError(t, err)
		done <- snapshot
	}()

	// the coordinator is not connected, so the only fetch is the fallback
	f.cm.snapshots.respond(t, 0, snapshotResult{snapshot: seedSnapshot(t)})

	select {
	case snapshot := <-done:
		assert.Equal(t, domain.OrderBookSource_Provider, snapshot.Source)
	case <-time.After(waitFor):
		t.Fatal("timed out")
	}
}

func TestMarketData_OrderBookSnapshotFromLocalBook(t *testing.T) {
	f := newMarketDataFixture(t)
	btc := mustSymbol(t, "btc_usdt")
	require.NoError(t, f.uc.Subscribe(btc))

	f.streams[0].open()
	f.cm.snapshots.respond(t, 0, snapshotResult{snapshot: seedSnapshot(t)})

	require.Eventually(t, func() bool {
		st, err := f.uc.State(btc)
		return err == nil && st.OrderBook != nil
	}, waitFor, tick)

	snapshot, err := f.uc.OrderBookSnapshot(context.Background(), btc, 1)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderBookSource_LocalOrderBook, snapshot.Source)
	assert.Equal(t, int64(1000), snapshot.LastUpdateID)
	assert.Len(t, snapshot.Bids, 1)
}

func TestMarketData_DailyCandles(t *testing.T) {
	f := newMarketDataFixture(t)
	f.cm.candles = []domain.DailyCandle{{
		Date:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Close: decimal.RequireFromString("44179.55"),
	}}

	candles, err := f.uc.DailyCandles(context.Background(), mustSymbol(t, "btc_usdt"), time.Now().AddDate(0, 0, -1), time.Now())

	require.NoError(t, err)
	assert.Equal(t, f.cm.candles, candles)
}

func TestMarketData_RunCacheSweeper(t *testing.T) {
	f := newMarketDataFixture(t)
	f.uc.cache.SetWithTTL("gone", CachedValue{}, time.Millisecond)
	f.uc.cache.SetWithTTL("kept", CachedValue{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.uc.RunCacheSweeper(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool { return f.uc.cache.Len() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"kept"}, f.uc.cache.Keys())
}
