package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spooky-finn/orderbook-sync/domain"
	promclient "github.com/spooky-finn/orderbook-sync/infrastructure/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	breakerFailures = 5
	breakerTimeout  = 30 * time.Second
)

// GuardedSnapshotFetcher rate-limits snapshot requests and opens a circuit
// after repeated failures so a resnapshot storm cannot hammer the venue.
type GuardedSnapshotFetcher struct {
	provider string
	next     domain.SnapshotFetcher
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

// NewGuardedSnapshotFetcher allows perSecond requests with a burst of one; perSecond <= 0 disables the limit.
func NewGuardedSnapshotFetcher(provider string, next domain.SnapshotFetcher, perSecond float64, logger *zap.Logger) *GuardedSnapshotFetcher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	return &GuardedSnapshotFetcher{
		provider: provider,
		next:     next,
		limiter:  rate.NewLimiter(limit, 1),
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider + "-snapshot",
			MaxRequests: 1,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}
}

func (f *GuardedSnapshotFetcher) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := f.cb.Execute(func() (interface{}, error) {
		return f.next.OrderBookSnapshot(ctx, symbol, limit)
	})
	promclient.SnapshotFetchHistogram.WithLabelValues(f.provider, outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	return result.(*domain.OrderBookSnapshot), nil
}

func (f *GuardedSnapshotFetcher) State() gobreaker.State {
	return f.cb.State()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "rejected"
	}
	return "error"
}
