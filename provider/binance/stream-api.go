package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/orderbook-sync/domain"
)

const (
	DefaultStreamEndpoint = "wss://stream.binance.com:9443/stream"

	eventDepthUpdate = "depthUpdate"
	event24hrTicker  = "24hrTicker"
)

// Message is the combined-stream envelope.
type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type DepthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateId int64      `json:"U"`
	FinalUpdateId int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// TickerData is the 24hr ticker payload. Keys differing only in case ("p"/"P",
// "c"/"C") are all declared so encoding/json never folds one into the other.
type TickerData struct {
	Event              string          `json:"e"`
	EventTime          int64           `json:"E"`
	Symbol             string          `json:"s"`
	PriceChange        decimal.Decimal `json:"p"`
	PriceChangePercent decimal.Decimal `json:"P"`
	LastPrice          decimal.Decimal `json:"c"`
	CloseTime          int64           `json:"C"`
	Volume             decimal.Decimal `json:"v"`
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int64          `json:"id"`
}

type eventHeader struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
}

// BinanceStreamAPI frames Binance combined streams for provider.StreamClient.
type BinanceStreamAPI struct {
	endpoint   string
	depthSpeed string
}

// NewBinanceStreamAPI builds the venue. depthSpeed is an optional update speed suffix such as "100ms".
func NewBinanceStreamAPI(endpoint string, depthSpeed string) *BinanceStreamAPI {
	if endpoint == "" {
		endpoint = DefaultStreamEndpoint
	}
	return &BinanceStreamAPI{
		endpoint:   endpoint,
		depthSpeed: depthSpeed,
	}
}

func (bs *BinanceStreamAPI) ID() string {
	return "binance"
}

func (bs *BinanceStreamAPI) SymbolCode(symbol *domain.MarketSymbol) string {
	return strings.ToUpper(symbol.Join(""))
}

func (bs *BinanceStreamAPI) StreamName(sub domain.Subscription) (string, error) {
	sym := sub.Symbol.Join("")

	switch sub.Type {
	case domain.StreamType_Depth:
		if bs.depthSpeed != "" {
			return fmt.Sprintf("%s@depth@%s", sym, bs.depthSpeed), nil
		}
		return fmt.Sprintf("%s@depth", sym), nil
	case domain.StreamType_Ticker:
		return fmt.Sprintf("%s@ticker", sym), nil
	case domain.StreamType_Kline:
		interval := sub.Interval
		if interval == "" {
			interval = domain.DefaultKlineInterval
		}
		return fmt.Sprintf("%s@kline_%s", sym, interval), nil
	case domain.StreamType_Trades:
		return fmt.Sprintf("%s@trade", sym), nil
	}

	return "", fmt.Errorf("unsupported stream type %q", sub.Type)
}

// URL joins the stream names into one combined-stream endpoint.
func (bs *BinanceStreamAPI) URL(_ context.Context, subs []domain.Subscription) (string, error) {
	names := make([]string, 0, len(subs))
	seen := make(map[string]bool, len(subs))
	for _, sub := range subs {
		name, err := bs.StreamName(sub)
		if err != nil {
			return "", err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("binance: empty stream list")
	}

	return fmt.Sprintf("%s?streams=%s", bs.endpoint, strings.Join(names, "/")), nil
}

// OnConnect is a no-op: the stream list is carried by the URL.
func (bs *BinanceStreamAPI) OnConnect(context.Context, *websocket.Conn, []domain.Subscription) error {
	return nil
}

// PingInterval is zero, Binance pings the client and the pong is automatic.
func (bs *BinanceStreamAPI) PingInterval() time.Duration {
	return 0
}

func (bs *BinanceStreamAPI) OnPing(*websocket.Conn) error {
	return nil
}

// Decode accepts both combined ({"stream","data"}) and raw frames.
func (bs *BinanceStreamAPI) Decode(frame []byte) (*domain.StreamMessage, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("binance: %w", err)
	}

	// subscription acks: {"result":null,"id":1}
	if env.ID != nil {
		return ignored(), nil
	}

	payload := []byte(env.Data)
	if len(payload) == 0 {
		payload = frame
	}

	var header eventHeader
	if err := json.Unmarshal(payload, &header); err != nil {
		return nil, fmt.Errorf("binance: %w", err)
	}

	switch header.Event {
	case eventDepthUpdate:
		return decodeDepthUpdate(payload)
	case event24hrTicker:
		return decodeTicker(payload)
	}

	return ignored(), nil
}

func decodeDepthUpdate(payload []byte) (*domain.StreamMessage, error) {
	var data DepthUpdateData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("binance: depth update: %w", err)
	}

	bids, err := domain.ParsePriceLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("binance: depth update bids: %w", err)
	}
	asks, err := domain.ParsePriceLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("binance: depth update asks: %w", err)
	}

	return &domain.StreamMessage{
		Kind: domain.MessageKind_DepthUpdate,
		Diff: &domain.DiffMessage{
			Symbol:        data.Symbol,
			FirstUpdateID: data.FirstUpdateId,
			FinalUpdateID: data.FinalUpdateId,
			BidChanges:    bids,
			AskChanges:    asks,
			EventTime:     time.UnixMilli(data.EventTime),
		},
	}, nil
}

func decodeTicker(payload []byte) (*domain.StreamMessage, error) {
	var data TickerData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("binance: ticker: %w", err)
	}

	return &domain.StreamMessage{
		Kind: domain.MessageKind_Ticker,
		Ticker: &domain.TickerMessage{
			Symbol:             data.Symbol,
			LastPrice:          data.LastPrice,
			PriceChangePercent: data.PriceChangePercent,
			Volume:             data.Volume,
			EventTime:          time.UnixMilli(data.EventTime),
		},
	}, nil
}

func ignored() *domain.StreamMessage {
	return &domain.StreamMessage{Kind: domain.MessageKind_Ignored}
}
