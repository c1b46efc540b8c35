package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fetcherFunc func(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error)

func (f fetcherFunc) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	return f(ctx, symbol, limit)
}

func TestGuardedSnapshotFetcher_PassesThrough(t *testing.T) {
	symbol, _ := domain.NewMarketSymbol("btc", "usdt")
	next := fetcherFunc(func(_ context.Context, s *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
		assert.Equal(t, 1000, limit)
		return &domain.OrderBookSnapshot{LastUpdateID: 42, Symbol: s.String()}, nil
	})
	f := NewGuardedSnapshotFetcher("binance", next, 0, zap.NewNop())

	snapshot, err := f.OrderBookSnapshot(context.Background(), symbol, 1000)

	require.NoError(t, err)
	assert.Equal(t, int64(42), snapshot.LastUpdateID)
}

func TestGuardedSnapshotFetcher_OpensAfterConsecutiveFailures(t *testing.T) {
	symbol, _ := domain.NewMarketSymbol("btc", "usdt")
	var calls atomic.Int32
	failure := errors.New("503")
	next := fetcherFunc(func(context.Context, *domain.MarketSymbol, int) (*domain.OrderBookSnapshot, error) {
		calls.Add(1)
		return nil, failure
	})
	f := NewGuardedSnapshotFetcher("binance", next, 0, zap.NewNop())

	for i := 0; i < breakerFailures; i++ {
		_, err := f.OrderBookSnapshot(context.Background(), symbol, 10)
		assert.ErrorIs(t, err, failure)
	}
	assert.Equal(t, gobreaker.StateOpen, f.State())

	_, err := f.OrderBookSnapshot(context.Background(), symbol, 10)

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(breakerFailures), calls.Load(), "open breaker must not reach the venue")
}

func TestGuardedSnapshotFetcher_RateLimitHonoursContext(t *testing.T) {
	symbol, _ := domain.NewMarketSymbol("btc", "usdt")
	next := fetcherFunc(func(context.Context, *domain.MarketSymbol, int) (*domain.OrderBookSnapshot, error) {
		return &domain.OrderBookSnapshot{}, nil
	})
	f := NewGuardedSnapshotFetcher("binance", next, 0.01, zap.NewNop())

	_, err := f.OrderBookSnapshot(context.Background(), symbol, 10)
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.OrderBookSnapshot(ctx, symbol, 10)

	assert.Error(t, err)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "rejected", outcome(gobreaker.ErrOpenState))
	assert.Equal(t, "error", outcome(errors.New("boom")))
}
