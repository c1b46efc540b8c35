package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/orderbook-sync/domain"
)

const maxKlines = 1000

// DailyCandles returns one page of daily klines in [from, to], oldest first.
// Ranges longer than a page are truncated; paging is left to the caller.
func (api *BinanceSyncAPI) DailyCandles(ctx context.Context, symbol *domain.MarketSymbol, from, to time.Time) ([]domain.DailyCandle, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("binance: invalid range %s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	code := strings.ToUpper(symbol.Join(""))

	klines, err := api.client.NewKlinesService().
		Symbol(code).
		Interval("1d").
		StartTime(from.UnixMilli()).
		EndTime(to.UnixMilli()).
		Limit(maxKlines).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: failed to get klines for %s: %w", code, err)
	}

	candles := make([]domain.DailyCandle, 0, len(klines))
	for _, k := range klines {
		values := make([]decimal.Decimal, 5)
		for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("binance: kline %d: %w", k.OpenTime, err)
			}
			values[i] = d
		}

		candles = append(candles, domain.DailyCandle{
			Date:   time.UnixMilli(k.OpenTime).UTC(),
			Open:   values[0],
			High:   values[1],
			Low:    values[2],
			Close:  values[3],
			Volume: values[4],
		})
	}

	return candles, nil
}
