package kucoin

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/orderbook-sync/domain"
)

const (
	DefaultRestEndpoint = "https://api.kucoin.com"

	shallowDepth = 20
	deepDepth    = 100
)

// KucoinSyncAPI is the REST side of KuCoin: websocket tokens, depth snapshots and daily candles.
// The SDK calls take no context, so ctx is only checked before a request is issued.
type KucoinSyncAPI struct {
	apiService *kucoin.ApiService
}

func NewKucoinSyncAPI(endpoint string) *KucoinSyncAPI {
	if endpoint == "" {
		endpoint = DefaultRestEndpoint
	}
	return &KucoinSyncAPI{
		apiService: kucoin.NewApiService(kucoin.ApiBaseURIOption(endpoint)),
	}
}

type OrderBookSnapshot struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

func (api *KucoinSyncAPI) WsConnOpts() (*kucoin.WebSocketTokenModel, error) {
	resp, err := api.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("kucoin: failed to get ws connection options: %w", err)
	}

	data := &kucoin.WebSocketTokenModel{}
	if err := resp.ReadData(data); err != nil {
		return nil, fmt.Errorf("kucoin: failed to read ws connection options: %w", err)
	}
	if len(data.Servers) == 0 {
		return nil, fmt.Errorf("kucoin: no instance servers in token response")
	}

	return data, nil
}

// OrderBookSnapshot reads the aggregated partial book. KuCoin only serves 20 or 100 levels
// without credentials, so limit picks the smallest page that covers it.
func (api *KucoinSyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	depth := int64(deepDepth)
	if limit > 0 && limit <= shallowDepth {
		depth = shallowDepth
	}
	code := symbolCode(symbol)

	resp, err := api.apiService.AggregatedPartOrderBook(code, depth)
	if err != nil {
		return nil, fmt.Errorf("kucoin: failed to get order book snapshot for %s: %w", code, err)
	}

	data := &OrderBookSnapshot{}
	if err := resp.ReadData(data); err != nil {
		return nil, fmt.Errorf("kucoin: failed to read order book snapshot: %w, response: %s", err, resp.RawData)
	}

	lastUpdId, err := strconv.ParseInt(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("kucoin: failed to convert sequence to int: %w, response: %s", err, resp.RawData)
	}

	bids, err := domain.ParsePriceLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("kucoin: snapshot bids: %w", err)
	}
	asks, err := domain.ParsePriceLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("kucoin: snapshot asks: %w", err)
	}

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		Symbol:       code,
		LastUpdateID: lastUpdId,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

// DailyCandles reads 1day candles. Rows come back newest first as
// [time, open, close, high, low, volume, turnover] with time in seconds.
func (api *KucoinSyncAPI) DailyCandles(ctx context.Context, symbol *domain.MarketSymbol, from, to time.Time) ([]domain.DailyCandle, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("kucoin: invalid range %s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	code := symbolCode(symbol)

	resp, err := api.apiService.KLines(code, "1day", from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("kucoin: failed to get candles for %s: %w", code, err)
	}

	var rows [][]string
	if err := resp.ReadData(&rows); err != nil {
		return nil, fmt.Errorf("kucoin: failed to read candles: %w", err)
	}

	candles := make([]domain.DailyCandle, 0, len(rows))
	for _, row := range rows {
		candle, err := parseCandle(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Date.Before(candles[j].Date)
	})

	return candles, nil
}

func parseCandle(row []string) (domain.DailyCandle, error) {
	if len(row) < 6 {
		return domain.DailyCandle{}, fmt.Errorf("kucoin: short candle row %v", row)
	}

	sec, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return domain.DailyCandle{}, fmt.Errorf("kucoin: candle time %q: %w", row[0], err)
	}

	values := make([]decimal.Decimal, 5)
	for i, raw := range row[1:6] {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.DailyCandle{}, fmt.Errorf("kucoin: candle %d: %w", sec, err)
		}
		values[i] = d
	}

	return domain.DailyCandle{
		Date:   time.Unix(sec, 0).UTC(),
		Open:   values[0],
		Close:  values[1],
		High:   values[2],
		Low:    values[3],
		Volume: values[4],
	}, nil
}

func symbolCode(symbol *domain.MarketSymbol) string {
	return strings.ToUpper(symbol.Join("-"))
}

