package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spooky-finn/orderbook-sync/domain"
	promclient "github.com/spooky-finn/orderbook-sync/infrastructure/prometheus"
	"go.uber.org/zap"
)

var (
	ErrSymbolNotTracked     = errors.New("symbol is not tracked")
	ErrSymbolAlreadyTracked = errors.New("symbol is already tracked")
)

const DefaultSweepInterval = 5 * time.Minute

// StreamFactory opens a new, disconnected stream connection for one symbol.
type StreamFactory func() (StreamConnection, error)

// MarketDataUseCase is the consumer read API over a set of per-symbol coordinators
// sharing one cache.
type MarketDataUseCase struct {
	provider    string
	connManager domain.ConnManager
	newStream   StreamFactory
	cache       *MarketCache
	cfg         CoordinatorConfig
	sink        StateSink
	logger      *zap.Logger

	mu           sync.RWMutex
	coordinators map[string]*SyncCoordinator
}

func NewMarketDataUseCase(
	provider string,
	connManager domain.ConnManager,
	newStream StreamFactory,
	marketCache *MarketCache,
	cfg CoordinatorConfig,
	sink StateSink,
	logger *zap.Logger,
) *MarketDataUseCase {
	return &MarketDataUseCase{
		provider:     provider,
		connManager:  connManager,
		newStream:    newStream,
		cache:        marketCache,
		cfg:          cfg,
		sink:         sink,
		logger:       logger,
		coordinators: make(map[string]*SyncCoordinator),
	}
}

// Subscribe starts tracking symbol.
func (m *MarketDataUseCase) Subscribe(symbol *domain.MarketSymbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := symbol.String()
	if _, ok := m.coordinators[key]; ok {
		return fmt.Errorf("%w: %s", ErrSymbolAlreadyTracked, key)
	}

	fetcher, err := m.connManager.SnapshotFetcher(m.provider)
	if err != nil {
		return err
	}
	stream, err := m.newStream()
	if err != nil {
		return err
	}

	var opts []CoordinatorOption
	if m.sink != nil {
		opts = append(opts, WithStateSink(m.sink))
	}

	coord := NewSyncCoordinator(m.provider, symbol, stream, fetcher, m.cache, m.cfg, m.logger, opts...)
	m.coordinators[key] = coord
	promclient.TrackedSymbolsGauge.Set(float64(len(m.coordinators)))

	coord.Start()
	m.logger.Info("symbol subscribed", zap.String("provider", m.provider), zap.String("symbol", key))

	return nil
}

func (m *MarketDataUseCase) Unsubscribe(symbol *domain.MarketSymbol) error {
	m.mu.Lock()
	key := symbol.String()
	coord, ok := m.coordinators[key]
	if ok {
		delete(m.coordinators, key)
		promclient.TrackedSymbolsGauge.Set(float64(len(m.coordinators)))
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSymbolNotTracked, key)
	}

	coord.Stop()
	m.logger.Info("symbol unsubscribed", zap.String("provider", m.provider), zap.String("symbol", key))
	return nil
}

func (m *MarketDataUseCase) State(symbol *domain.MarketSymbol) (MarketState, error) {
	coord, err := m.coordinator(symbol)
	if err != nil {
		return MarketState{}, err
	}
	return coord.State(), nil
}

func (m *MarketDataUseCase) Refresh(symbol *domain.MarketSymbol) error {
	coord, err := m.coordinator(symbol)
	if err != nil {
		return err
	}
	coord.Refresh()
	return nil
}

// ChangeSymbol moves the coordinator tracking from to track to instead.
func (m *MarketDataUseCase) ChangeSymbol(from, to *domain.MarketSymbol) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coord, ok := m.coordinators[from.String()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSymbolNotTracked, from)
	}
	if from.Equal(to) {
		return nil
	}
	if _, ok := m.coordinators[to.String()]; ok {
		return fmt.Errorf("%w: %s", ErrSymbolAlreadyTracked, to)
	}

	delete(m.coordinators, from.String())
	m.coordinators[to.String()] = coord
	coord.ChangeSymbol(to)

	return nil
}

func (m *MarketDataUseCase) AddListener(symbol *domain.MarketSymbol, l domain.StreamListener) error {
	coord, err := m.coordinator(symbol)
	if err != nil {
		return err
	}
	coord.AddListener(l)
	return nil
}

func (m *MarketDataUseCase) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbols := make([]string, 0, len(m.coordinators))
	for key := range m.coordinators {
		symbols = append(symbols, key)
	}
	sort.Strings(symbols)
	return symbols
}

// OrderBookSnapshot returns the local book when it is seeded, otherwise the provider's snapshot.
func (m *MarketDataUseCase) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	if coord, err := m.coordinator(symbol); err == nil {
		if snapshot, ok := coord.OrderBookSnapshot(limit); ok {
			return snapshot, nil
		}
		m.logger.Debug("local book is not seeded, provider snapshot returned", zap.String("symbol", symbol.String()))
	}

	fetcher, err := m.connManager.SnapshotFetcher(m.provider)
	if err != nil {
		return nil, err
	}
	return fetcher.OrderBookSnapshot(ctx, symbol, limit)
}

func (m *MarketDataUseCase) DailyCandles(ctx context.Context, symbol *domain.MarketSymbol, from, to time.Time) ([]domain.DailyCandle, error) {
	fetcher, err := m.connManager.CandleFetcher(m.provider)
	if err != nil {
		return nil, err
	}
	return fetcher.DailyCandles(ctx, symbol, from, to)
}

// RunCacheSweeper clears expired cache entries every interval until ctx is done.
func (m *MarketDataUseCase) RunCacheSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.cache.ClearExpired(); len(removed) > 0 {
				m.logger.Debug("expired cache entries cleared", zap.Strings("keys", removed))
			}
		}
	}
}

// Close stops every coordinator.
func (m *MarketDataUseCase) Close() {
	m.mu.Lock()
	coordinators := m.coordinators
	m.coordinators = make(map[string]*SyncCoordinator)
	promclient.TrackedSymbolsGauge.Set(0)
	m.mu.Unlock()

	for _, coord := range coordinators {
		coord.Stop()
	}
}

func (m *MarketDataUseCase) coordinator(symbol *domain.MarketSymbol) (*SyncCoordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coord, ok := m.coordinators[symbol.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotTracked, symbol)
	}
	return coord, nil
}
