package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderBookSource string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

// DiffMessage is an incremental depth update. Symbol is the venue's own symbol code.
type DiffMessage struct {
	Symbol        string
	FirstUpdateID int64
	FinalUpdateID int64
	BidChanges    []PriceLevel
	AskChanges    []PriceLevel
	EventTime     time.Time
}

type TickerMessage struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	Volume             decimal.Decimal `json:"volume"`
	EventTime          time.Time       `json:"eventTime"`
}

type OrderBookSnapshot struct {
	Source       OrderBookSource `json:"source"`
	Symbol       string          `json:"symbol"`
	LastUpdateID int64           `json:"lastUpdateId"`
	Bids         []PriceLevel    `json:"bids"`
	Asks         []PriceLevel    `json:"asks"`
	UpdatedAt    time.Time       `json:"updatedAt"`

	BestBid decimal.NullDecimal `json:"bestBid"`
	BestAsk decimal.NullDecimal `json:"bestAsk"`
	Spread  decimal.NullDecimal `json:"spread"`
}

// DailyCandle is one record of the historical collaborator's output.
type DailyCandle struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type MessageKind int

const (
	MessageKind_Ignored MessageKind = iota
	MessageKind_Ticker
	MessageKind_DepthUpdate
)

// StreamMessage is a classified inbound frame. Exactly one payload is set for a recognized kind.
type StreamMessage struct {
	Kind   MessageKind
	Ticker *TickerMessage
	Diff   *DiffMessage
}
