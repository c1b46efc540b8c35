package provider

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spooky-finn/orderbook-sync/domain"
)

// Venue holds the exchange-specific parts of a stream connection.
// StreamClient owns the socket; a Venue only builds URLs and frames.
type Venue interface {
	ID() string
	// URL builds the endpoint for the subscription set. It may call out to the venue (token requests).
	URL(ctx context.Context, subs []domain.Subscription) (string, error)
	// OnConnect runs once per socket before any frame is read.
	OnConnect(ctx context.Context, conn *websocket.Conn, subs []domain.Subscription) error
	// Decode classifies one frame. Control frames decode to MessageKind_Ignored.
	Decode(frame []byte) (*domain.StreamMessage, error)
	// PingInterval is zero when the venue pings the client instead.
	PingInterval() time.Duration
	OnPing(conn *websocket.Conn) error
	// SymbolCode is how the venue spells symbol in inbound messages.
	SymbolCode(symbol *domain.MarketSymbol) string
}
