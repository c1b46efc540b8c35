package domain

import (
	"context"
	"time"
)

// SnapshotFetcher returns a full book used to (re)seed local reconstruction.
type SnapshotFetcher interface {
	OrderBookSnapshot(ctx context.Context, symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
}

type CandleFetcher interface {
	DailyCandles(ctx context.Context, symbol *MarketSymbol, from, to time.Time) ([]DailyCandle, error)
}

// StreamListener observes a stream connection. Calls for one connection
// are made sequentially, in arrival order.
type StreamListener interface {
	OnConnected()
	// err is nil when the caller asked for the disconnect
	OnDisconnected(err error)
	OnTicker(ticker *TickerMessage)
	OnDepthUpdate(diff *DiffMessage)
	// non-fatal: malformed frames, snapshot failures
	OnError(err error)
	OnReconnectFailed()
}

// NopStreamListener can be embedded to implement only the events of interest.
type NopStreamListener struct{}

func (NopStreamListener) OnConnected() {}
func (NopStreamListener) OnDisconnected(error) {}
func (NopStreamListener) OnTicker(*TickerMessage) {}
func (NopStreamListener) OnDepthUpdate(*DiffMessage) {}
func (NopStreamListener) OnError(error) {}
func (NopStreamListener) OnReconnectFailed() {}
