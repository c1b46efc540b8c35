package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidPriceLevel = errors.New("invalid price level")

// PriceLevel is a single [price, quantity] row. Zero quantity in a diff removes the level.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

func NewPriceLevel(price, quantity string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: price %q: %v", ErrInvalidPriceLevel, price, err)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: quantity %q: %v", ErrInvalidPriceLevel, quantity, err)
	}
	if q.IsNegative() {
		return PriceLevel{}, fmt.Errorf("%w: negative quantity %q", ErrInvalidPriceLevel, quantity)
	}

	return PriceLevel{Price: p, Quantity: q}, nil
}

// ParsePriceLevels converts exchange [price, quantity, ...] string rows. Extra columns are ignored.
func ParsePriceLevels(rows [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("%w: expected [price, quantity], got %v", ErrInvalidPriceLevel, row)
		}

		level, err := NewPriceLevel(row[0], row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}

	return levels, nil
}

func (l PriceLevel) key() string {
	return l.Price.String()
}

func (l PriceLevel) String() string {
	return fmt.Sprintf("%s@%s", l.Quantity.String(), l.Price.String())
}
