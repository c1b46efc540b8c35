package binance

import (
	"context"
	"fmt"
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/spooky-finn/orderbook-sync/domain"
)

const (
	DefaultRestEndpoint = "https://api.binance.com"
	maxSnapshotDepth    = 5000
)

// BinanceSyncAPI is the request/response side of Binance: depth snapshots and daily klines.
type BinanceSyncAPI struct {
	client *gobinance.Client
}

func NewBinanceSyncAPI(endpoint string) *BinanceSyncAPI {
	client := gobinance.NewClient("", "")
	if endpoint != "" {
		client.BaseURL = endpoint
	}
	return &BinanceSyncAPI{client: client}
}

func (api *BinanceSyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	if limit <= 0 || limit > maxSnapshotDepth {
		limit = maxSnapshotDepth
	}
	code := strings.ToUpper(symbol.Join(""))

	resp, err := api.client.NewDepthService().Symbol(code).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: failed to get order book snapshot for %s: %w", code, err)
	}

	bids := make([][]string, len(resp.Bids))
	for i, bid := range resp.Bids {
		bids[i] = []string{bid.Price, bid.Quantity}
	}
	asks := make([][]string, len(resp.Asks))
	for i, ask := range resp.Asks {
		asks[i] = []string{ask.Price, ask.Quantity}
	}

	bidLevels, err := domain.ParsePriceLevels(bids)
	if err != nil {
		return nil, fmt.Errorf("binance: snapshot bids: %w", err)
	}
	askLevels, err := domain.ParsePriceLevels(asks)
	if err != nil {
		return nil, fmt.Errorf("binance: snapshot asks: %w", err)
	}

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		Symbol:       code,
		LastUpdateID: resp.LastUpdateID,
		Bids:         bidLevels,
		Asks:         askLevels,
	}, nil
}
