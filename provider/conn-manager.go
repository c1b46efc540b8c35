package provider

import (
	"errors"
	"fmt"

	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/spooky-finn/orderbook-sync/provider/binance"
	"github.com/spooky-finn/orderbook-sync/provider/kucoin"
	"go.uber.org/zap"
)

const (
	Provider_Binance = "binance"
	Provider_Kucoin  = "kucoin"
)

var ErrUnknownProvider = errors.New("unknown provider")

type ConnectionManagerConfig struct {
	BinanceStreamURL  string
	BinanceRestURL    string
	BinanceDepthSpeed string
	KucoinBaseURL     string
	// SnapshotRate is the per-provider snapshot requests per second.
	SnapshotRate float64
	Stream       StreamClientConfig
}

// ConnectionManager resolves a provider name to its venue framing and REST collaborators.
// Snapshot fetchers are shared per provider so every symbol goes through the same breaker.
type ConnectionManager struct {
	cfg    ConnectionManagerConfig
	logger *zap.Logger

	BinanceSyncAPI   *binance.BinanceSyncAPI
	BinanceStreamAPI *binance.BinanceStreamAPI
	KucoinSyncAPI    *kucoin.KucoinSyncAPI
	KucoinStreamAPI  *kucoin.KucoinStreamAPI

	snapshots map[string]*GuardedSnapshotFetcher
}

func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	binanceSyncAPI := binance.NewBinanceSyncAPI(cfg.BinanceRestURL)
	kucoinSyncAPI := kucoin.NewKucoinSyncAPI(cfg.KucoinBaseURL)

	return &ConnectionManager{
		cfg:              cfg,
		logger:           logger,
		BinanceSyncAPI:   binanceSyncAPI,
		BinanceStreamAPI: binance.NewBinanceStreamAPI(cfg.BinanceStreamURL, cfg.BinanceDepthSpeed),
		KucoinSyncAPI:    kucoinSyncAPI,
		KucoinStreamAPI:  kucoin.NewKucoinStreamAPI(kucoinSyncAPI),
		snapshots: map[string]*GuardedSnapshotFetcher{
			Provider_Binance: NewGuardedSnapshotFetcher(Provider_Binance, binanceSyncAPI, cfg.SnapshotRate, logger),
			Provider_Kucoin:  NewGuardedSnapshotFetcher(Provider_Kucoin, kucoinSyncAPI, cfg.SnapshotRate, logger),
		},
	}
}

func (cm *ConnectionManager) Venue(provider string) (Venue, error) {
	switch provider {
	case Provider_Kucoin:
		return cm.KucoinStreamAPI, nil
	case Provider_Binance:
		return cm.BinanceStreamAPI, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
}

func (cm *ConnectionManager) SnapshotFetcher(provider string) (domain.SnapshotFetcher, error) {
	f, ok := cm.snapshots[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return f, nil
}

func (cm *ConnectionManager) CandleFetcher(provider string) (domain.CandleFetcher, error) {
	switch provider {
	case Provider_Kucoin:
		return cm.KucoinSyncAPI, nil
	case Provider_Binance:
		return cm.BinanceSyncAPI, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
}

// NewStreamClient builds a disconnected client for provider with no subscriptions.
func (cm *ConnectionManager) NewStreamClient(provider string, opts ...StreamClientOption) (*StreamClient, error) {
	venue, err := cm.Venue(provider)
	if err != nil {
		return nil, err
	}
	return NewStreamClient(venue, cm.cfg.Stream, cm.logger, opts...), nil
}
