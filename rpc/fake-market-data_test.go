package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/spooky-finn/orderbook-sync/usecase"
)

type fakeMarketData struct {
	mu       sync.Mutex
	tracked  map[string]usecase.MarketState
	refresh  []string
	snapshot *domain.OrderBookSnapshot
	candles  []domain.DailyCandle
	err      error

	lastLimit int
	lastFrom  time.Time
	lastTo    time.Time
}

func newFakeMarketData() *fakeMarketData {
	return &fakeMarketData{tracked: make(map[string]usecase.MarketState)}
}

func (f *fakeMarketData) track(symbol string, state usecase.MarketState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked[symbol] = state
}

func (f *fakeMarketData) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeMarketData) Subscribe(symbol *domain.MarketSymbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tracked[symbol.String()]; ok {
		return fmt.Errorf("%w: %s", usecase.ErrSymbolAlreadyTracked, symbol)
	}
	f.tracked[symbol.String()] = usecase.MarketState{Symbol: symbol.String(), IsLoading: true}
	return nil
}

func (f *fakeMarketData) Unsubscribe(symbol *domain.MarketSymbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tracked[symbol.String()]; !ok {
		return fmt.Errorf("%w: %s", usecase.ErrSymbolNotTracked, symbol)
	}
	delete(f.tracked, symbol.String())
	return nil
}

func (f *fakeMarketData) State(symbol *domain.MarketSymbol) (usecase.MarketState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.tracked[symbol.String()]
	if !ok {
		return usecase.MarketState{}, fmt.Errorf("%w: %s", usecase.ErrSymbolNotTracked, symbol)
	}
	return state, nil
}

func (f *fakeMarketData) Refresh(symbol *domain.MarketSymbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tracked[symbol.String()]; !ok {
		return fmt.Errorf("%w: %s", usecase.ErrSymbolNotTracked, symbol)
	}
	f.refresh = append(f.refresh, symbol.String())
	return nil
}

func (f *fakeMarketData) Symbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	symbols := make([]string, 0, len(f.tracked))
	for s := range f.tracked {
		symbols = append(symbols, s)
	}
	return symbols
}

func (f *fakeMarketData) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

func (f *fakeMarketData) DailyCandles(ctx context.Context, symbol *domain.MarketSymbol, from, to time.Time) ([]domain.DailyCandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFrom, f.lastTo = from, to
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

var errUpstream = errors.New("upstream unavailable")

func connectedState() usecase.MarketState {
	return usecase.MarketState{
		Symbol:          "btc_usdt",
		Price:           decimal.NewNullDecimal(decimal.RequireFromString("50000.5")),
		ConnectionState: domain.ConnectionState_Connected,
		IsConnected:     true,
		OrderBook: &domain.OrderBookSnapshot{
			Source:       domain.OrderBookSource_LocalOrderBook,
			Symbol:       "BTCUSDT",
			LastUpdateID: 1000,
			Bids:         []domain.PriceLevel{{Price: decimal.RequireFromString("50000"), Quantity: decimal.RequireFromString("1.5")}},
		},
	}
}

func candle(date string, close string) domain.DailyCandle {
	d, _ := time.Parse(dateLayout, date)
	return domain.DailyCandle{
		Date:   d,
		Open:   decimal.RequireFromString("1"),
		High:   decimal.RequireFromString("2"),
		Low:    decimal.RequireFromString("0.5"),
		Close:  decimal.RequireFromString(close),
		Volume: decimal.RequireFromString("10"),
	}
}
