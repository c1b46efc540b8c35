package redisclient

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spooky-finn/orderbook-sync/usecase"
	"go.uber.org/zap"
)

const (
	keyPrefix     = "orderbooksync:state:"
	channelPrefix = "orderbooksync.state."

	DefaultStateTTL = 30 * time.Second
	writeTimeout    = 5 * time.Second
)

var _ usecase.StateSink = (*StatePublisher)(nil)

func StateKey(symbol string) string {
	return keyPrefix + symbol
}

func StateChannel(symbol string) string {
	return channelPrefix + symbol
}

// StatePublisher mirrors the latest MarketState of every symbol into Redis.
// Publish never blocks the caller: states pile up per symbol and only the
// newest one is written when the worker gets to it.
type StatePublisher struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]usecase.MarketState
	wake    chan struct{}
	done    chan struct{}
}

func NewStatePublisher(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StatePublisher {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StatePublisher{
		client:  client,
		ttl:     ttl,
		logger:  logger,
		pending: make(map[string]usecase.MarketState),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (p *StatePublisher) Publish(symbol string, state usecase.MarketState) {
	p.mu.Lock()
	p.pending[symbol] = state
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run writes pending states until ctx is done, then flushes what is left.
// It must be called at most once.
func (p *StatePublisher) Run(ctx context.Context) {
	defer close(p.done)
	// a batch taken off pending must reach redis even if ctx ends mid-flush
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			p.flush(writeCtx)
			return
		case <-p.wake:
			p.flush(writeCtx)
		}
	}
}

func (p *StatePublisher) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = make(map[string]usecase.MarketState, len(batch))
	p.mu.Unlock()

	for symbol, state := range batch {
		if err := p.write(ctx, symbol, state); err != nil {
			p.logger.Warn("failed to publish state", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (p *StatePublisher) write(ctx context.Context, symbol string, state usecase.MarketState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, StateKey(symbol), payload, p.ttl)
	pipe.Publish(ctx, StateChannel(symbol), payload)
	_, err = pipe.Exec(ctx)
	return err
}

// Done is closed once Run has returned, after its final flush.
func (p *StatePublisher) Done() <-chan struct{} {
	return p.done
}

// Close releases the client. When Run was started, wait on Done first so
// the shutdown flush is not cut off.
func (p *StatePublisher) Close() error {
	return p.client.Close()
}
