package domain

import "fmt"

type StreamType string

const (
	StreamType_Depth  StreamType = "depth"
	StreamType_Ticker StreamType = "ticker"
	StreamType_Kline  StreamType = "kline"
	StreamType_Trades StreamType = "trades"
)

const DefaultKlineInterval = "1m"

type Subscription struct {
	Symbol   *MarketSymbol
	Type     StreamType
	Interval string // kline only
}

func NewSubscription(symbol *MarketSymbol, streamType StreamType) Subscription {
	s := Subscription{Symbol: symbol, Type: streamType}
	if streamType == StreamType_Kline {
		s.Interval = DefaultKlineInterval
	}
	return s
}

func (s Subscription) Equal(other Subscription) bool {
	return s.Type == other.Type && s.Interval == other.Interval && s.Symbol.Equal(other.Symbol)
}

// WithSymbol returns the same subscription moved to another symbol.
func (s Subscription) WithSymbol(symbol *MarketSymbol) Subscription {
	s.Symbol = symbol
	return s
}

func (s Subscription) String() string {
	if s.Interval != "" {
		return fmt.Sprintf("%s:%s_%s", s.Symbol, s.Type, s.Interval)
	}
	return fmt.Sprintf("%s:%s", s.Symbol, s.Type)
}
