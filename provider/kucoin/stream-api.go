package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/orderbook-sync/domain"
)

const (
	subjectLevel2   = "trade.l2update"
	subjectSnapshot = "trade.snapshot"

	writeWait = 5 * time.Second
)

// TokenSource hands out public websocket tokens. *KucoinSyncAPI satisfies it.
type TokenSource interface {
	WsConnOpts() (*kucoin.WebSocketTokenModel, error)
}

type DepthUpdateModel struct {
	Changes       OrderBookChanges `json:"changes"`
	SequenceEnd   int64            `json:"sequenceEnd"`
	SequenceStart int64            `json:"sequenceStart"`
	Symbol        string           `json:"symbol"`
	Time          int64            `json:"time"`
}

type OrderBookChanges struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

type SnapshotModel struct {
	Sequence string `json:"sequence"`
	Data     struct {
		Symbol          string          `json:"symbol"`
		LastTradedPrice decimal.Decimal `json:"lastTradedPrice"`
		ChangeRate      decimal.Decimal `json:"changeRate"`
		Vol             decimal.Decimal `json:"vol"`
		Datetime        int64           `json:"datetime"`
	} `json:"data"`
}

type downstreamMessage struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// KucoinStreamAPI frames KuCoin public topics for provider.StreamClient.
// Every connect needs a fresh token, which also carries the ping interval.
type KucoinStreamAPI struct {
	tokens       TokenSource
	pingInterval atomic.Int64
}

func NewKucoinStreamAPI(tokens TokenSource) *KucoinStreamAPI {
	return &KucoinStreamAPI{tokens: tokens}
}

func (s *KucoinStreamAPI) ID() string {
	return "kucoin"
}

func (s *KucoinStreamAPI) SymbolCode(symbol *domain.MarketSymbol) string {
	return symbolCode(symbol)
}

func (s *KucoinStreamAPI) URL(ctx context.Context, subs []domain.Subscription) (string, error) {
	if len(subs) == 0 {
		return "", fmt.Errorf("kucoin: empty topic list")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	opts, err := s.tokens.WsConnOpts()
	if err != nil {
		return "", err
	}
	server := opts.Servers[0]
	s.pingInterval.Store(int64(server.PingInterval))

	q := url.Values{}
	q.Set("token", opts.Token)
	q.Set("connectId", uuid.NewString())

	return fmt.Sprintf("%s?%s", server.Endpoint, q.Encode()), nil
}

func (s *KucoinStreamAPI) Topic(sub domain.Subscription) (string, error) {
	code := symbolCode(sub.Symbol)

	switch sub.Type {
	case domain.StreamType_Depth:
		return "/market/level2:" + code, nil
	case domain.StreamType_Ticker:
		return "/market/snapshot:" + code, nil
	case domain.StreamType_Kline:
		interval := sub.Interval
		if interval == "" {
			interval = domain.DefaultKlineInterval
		}
		return fmt.Sprintf("/market/candles:%s_%s", code, candleType(interval)), nil
	case domain.StreamType_Trades:
		return "/market/match:" + code, nil
	}

	return "", fmt.Errorf("unsupported stream type %q", sub.Type)
}

// OnConnect subscribes each topic; KuCoin carries nothing in the URL but the token.
func (s *KucoinStreamAPI) OnConnect(_ context.Context, conn *websocket.Conn, subs []domain.Subscription) error {
	seen := make(map[string]bool, len(subs))
	for _, sub := range subs {
		topic, err := s.Topic(sub)
		if err != nil {
			return err
		}
		if seen[topic] {
			continue
		}
		seen[topic] = true

		if err := writeJSON(conn, kucoin.NewSubscribeMessage(topic, false)); err != nil {
			return fmt.Errorf("kucoin: subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (s *KucoinStreamAPI) PingInterval() time.Duration {
	return time.Duration(s.pingInterval.Load()) * time.Millisecond
}

func (s *KucoinStreamAPI) OnPing(conn *websocket.Conn) error {
	return writeJSON(conn, kucoin.NewPingMessage())
}

func (s *KucoinStreamAPI) Decode(frame []byte) (*domain.StreamMessage, error) {
	var msg downstreamMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("kucoin: %w", err)
	}

	if msg.Type == kucoin.ErrorMessage {
		return nil, fmt.Errorf("kucoin: error frame: %s", msg.Data)
	}
	// welcome, ack and pong frames carry nothing for the book
	if msg.Type != kucoin.Message {
		return ignored(), nil
	}

	switch msg.Subject {
	case subjectLevel2:
		return decodeLevel2(msg.Data)
	case subjectSnapshot:
		return decodeSnapshot(msg.Data)
	}

	return ignored(), nil
}

func decodeLevel2(data json.RawMessage) (*domain.StreamMessage, error) {
	update := &DepthUpdateModel{}
	if err := json.Unmarshal(data, update); err != nil {
		return nil, fmt.Errorf("kucoin: level2: %w", err)
	}

	bids, err := domain.ParsePriceLevels(update.Changes.Bids)
	if err != nil {
		return nil, fmt.Errorf("kucoin: level2 bids: %w", err)
	}
	asks, err := domain.ParsePriceLevels(update.Changes.Asks)
	if err != nil {
		return nil, fmt.Errorf("kucoin: level2 asks: %w", err)
	}

	return &domain.StreamMessage{
		Kind: domain.MessageKind_DepthUpdate,
		Diff: &domain.DiffMessage{
			Symbol:        update.Symbol,
			FirstUpdateID: update.SequenceStart,
			FinalUpdateID: update.SequenceEnd,
			BidChanges:    dropSequenceOnly(bids),
			AskChanges:    dropSequenceOnly(asks),
			EventTime:     time.UnixMilli(update.Time),
		},
	}, nil
}

func decodeSnapshot(data json.RawMessage) (*domain.StreamMessage, error) {
	snapshot := &SnapshotModel{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("kucoin: snapshot: %w", err)
	}

	return &domain.StreamMessage{
		Kind: domain.MessageKind_Ticker,
		Ticker: &domain.TickerMessage{
			Symbol:             snapshot.Data.Symbol,
			LastPrice:          snapshot.Data.LastTradedPrice,
			PriceChangePercent: snapshot.Data.ChangeRate.Mul(decimal.NewFromInt(100)),
			Volume:             snapshot.Data.Vol,
			EventTime:          time.UnixMilli(snapshot.Data.Datetime),
		},
	}, nil
}

// dropSequenceOnly removes the price "0" entries KuCoin uses to advance the sequence.
func dropSequenceOnly(levels []domain.PriceLevel) []domain.PriceLevel {
	out := levels[:0]
	for _, l := range levels {
		if !l.Price.IsZero() {
			out = append(out, l)
		}
	}
	return out
}

// candleType maps "1m", "4h", "1d" onto KuCoin's "1min", "4hour", "1day".
func candleType(interval string) string {
	units := map[string]string{"m": "min", "h": "hour", "d": "day", "w": "week"}
	if len(interval) < 2 {
		return interval
	}
	unit, ok := units[interval[len(interval)-1:]]
	if !ok {
		return interval
	}
	return strings.TrimSuffix(interval, interval[len(interval)-1:]) + unit
}

func writeJSON(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func ignored() *domain.StreamMessage {
	return &domain.StreamMessage{Kind: domain.MessageKind_Ignored}
}
