package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/orderbook-sync/domain"
	"github.com/spooky-finn/orderbook-sync/infrastructure/cache"
	promclient "github.com/spooky-finn/orderbook-sync/infrastructure/prometheus"
	"go.uber.org/zap"
)

var (
	ErrSnapshotFailed     = errors.New("snapshot fetch failed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

const (
	DefaultSnapshotDepth    = 1000
	DefaultPublishDepth     = 100
	DefaultRetryDelay       = time.Second
	DefaultMaxRetryDelay    = 30 * time.Second
	DefaultFailureThreshold = 3
	DefaultEntryTTL         = 30 * time.Second
	DefaultFetchTimeout     = 10 * time.Second
)

type CoordinatorConfig struct {
	SnapshotDepth int
	PublishDepth  int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// FailureThreshold consecutive snapshot failures surface in MarketState.Error.
	FailureThreshold int
	EntryTTL         time.Duration
	FetchTimeout     time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.SnapshotDepth <= 0 {
		c.SnapshotDepth = DefaultSnapshotDepth
	}
	if c.PublishDepth <= 0 {
		c.PublishDepth = DefaultPublishDepth
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.EntryTTL <= 0 {
		c.EntryTTL = DefaultEntryTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// StreamConnection is the part of provider.StreamClient the coordinator drives.
type StreamConnection interface {
	Connect()
	Disconnect()
	Subscribe(sub domain.Subscription) bool
	Unsubscribe(sub domain.Subscription) bool
	ChangeSymbol(symbol *domain.MarketSymbol)
	State() domain.ConnectionState
	SetListener(l domain.StreamListener)
	SymbolCode(symbol *domain.MarketSymbol) string
}

// StateSink receives every published state change.
type StateSink interface {
	Publish(symbol string, state MarketState)
}

// CachedValue is what the coordinator keeps in the shared cache: one of the two is set.
type CachedValue struct {
	Ticker    *domain.TickerMessage     `json:"ticker,omitempty"`
	OrderBook *domain.OrderBookSnapshot `json:"orderBook,omitempty"`
}

type MarketCache = cache.TTLCache[CachedValue]

func PriceKey(code string) string {
	return code + "_price"
}

func OrderBookKey(code string) string {
	return code + "_orderbook"
}

// MarketState is the consumer-facing read model of one symbol.
type MarketState struct {
	Symbol             string                    `json:"symbol"`
	Price              decimal.NullDecimal       `json:"price"`
	PriceChangePercent decimal.NullDecimal       `json:"priceChangePercent"`
	Volume             decimal.NullDecimal       `json:"volume"`
	OrderBook          *domain.OrderBookSnapshot `json:"orderBook"`
	ConnectionState    domain.ConnectionState    `json:"connectionState"`
	IsConnected        bool                      `json:"isConnected"`
	IsLoading          bool                      `json:"isLoading"`
	Error              string                    `json:"error,omitempty"`
	UpdatedAt          time.Time                 `json:"updatedAt"`
}

func (s *MarketState) setTicker(t *domain.TickerMessage) {
	s.Price = decimal.NewNullDecimal(t.LastPrice)
	s.PriceChangePercent = decimal.NewNullDecimal(t.PriceChangePercent)
	s.Volume = decimal.NewNullDecimal(t.Volume)
}

type eventKind int

const (
	eventConnected eventKind = iota
	eventDisconnected
	eventTicker
	eventDepthUpdate
	eventError
	eventReconnectFailed
	eventSnapshot
	eventRetrySnapshot
	eventRefresh
	eventChangeSymbol
)

type event struct {
	kind     eventKind
	err      error
	ticker   *domain.TickerMessage
	diff     *domain.DiffMessage
	snapshot *domain.OrderBookSnapshot
	symbol   *domain.MarketSymbol
	epoch    uint64
}

type CoordinatorOption func(*SyncCoordinator)

func WithStateSink(sink StateSink) CoordinatorOption {
	return func(c *SyncCoordinator) {
		c.sink = sink
	}
}

// SyncCoordinator keeps one symbol's book in sync with a stream connection.
//
// Stream callbacks, snapshot results and control requests are queued and
// handled by a single worker goroutine, which is the only writer of the book.
// Every (re)connect, sequence gap, refresh and symbol change starts a new
// epoch: the book is reset and gated until a snapshot fetched for that epoch
// seeds it. Diffs arriving while gated and snapshots from older epochs are
// discarded.
type SyncCoordinator struct {
	provider string
	stream   StreamConnection
	fetcher  domain.SnapshotFetcher
	cache    *MarketCache
	cfg      CoordinatorConfig
	backoff  *backoff.Backoff
	sink     StateSink
	logger   *zap.Logger

	queueMu sync.Mutex
	queue   deque.Deque[event]
	wake    chan struct{}

	mu        sync.RWMutex
	symbol    *domain.MarketSymbol
	code      string
	book      *domain.OrderBook
	state     MarketState
	listeners []domain.StreamListener
	retry     *time.Timer

	// owned by the worker
	epoch    uint64
	gated    bool
	failures int

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
}

func NewSyncCoordinator(
	provider string,
	symbol *domain.MarketSymbol,
	stream StreamConnection,
	fetcher domain.SnapshotFetcher,
	marketCache *MarketCache,
	cfg CoordinatorConfig,
	logger *zap.Logger,
	opts ...CoordinatorOption,
) *SyncCoordinator {
	cfg = cfg.withDefaults()
	code := stream.SymbolCode(symbol)
	ctx, cancel := context.WithCancel(context.Background())

	c := &SyncCoordinator{
		provider: provider,
		stream:   stream,
		fetcher:  fetcher,
		cache:    marketCache,
		cfg:      cfg,
		backoff: &backoff.Backoff{
			Min:    cfg.RetryDelay,
			Max:    cfg.MaxRetryDelay,
			Factor: 2,
		},
		logger: logger.Named("coordinator").With(zap.String("provider", provider)),
		queue:  deque.Deque[event]{},
		wake:   make(chan struct{}, 1),
		symbol: symbol,
		code:   code,
		book:   domain.NewOrderBook(code),
		state:  MarketState{Symbol: symbol.String()},
		gated:  true,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start subscribes depth and ticker streams for the symbol and connects. It returns immediately.
func (c *SyncCoordinator) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	c.stream.SetListener(&streamEvents{c: c})

	c.mu.Lock()
	symbol := c.symbol
	c.state.IsLoading = true
	c.loadCachedLocked()
	c.mu.Unlock()

	c.stream.Subscribe(domain.NewSubscription(symbol, domain.StreamType_Depth))
	c.stream.Subscribe(domain.NewSubscription(symbol, domain.StreamType_Ticker))

	go c.run()
	c.stream.Connect()
}

// Stop disconnects and waits for the worker to exit.
func (c *SyncCoordinator) Stop() {
	c.stream.Disconnect()
	c.cancel()
	if c.started.Load() {
		<-c.done
	}

	c.mu.Lock()
	c.stopRetryLocked()
	c.mu.Unlock()
}

// Refresh forces a reconnect and a fresh snapshot, superseding any pending reconnect.
func (c *SyncCoordinator) Refresh() {
	c.enqueue(event{kind: eventRefresh})
}

// ChangeSymbol moves the coordinator to symbol. Reads answer for the new
// symbol as soon as it returns; the stream is switched by the worker.
func (c *SyncCoordinator) ChangeSymbol(symbol *domain.MarketSymbol) {
	code := c.stream.SymbolCode(symbol)

	c.mu.Lock()
	if c.symbol.Equal(symbol) {
		c.mu.Unlock()
		return
	}
	c.symbol = symbol
	c.code = code
	c.book = domain.NewOrderBook(code)
	c.state = MarketState{
		Symbol:          symbol.String(),
		ConnectionState: c.state.ConnectionState,
		IsLoading:       true,
	}
	c.loadCachedLocked()
	c.mu.Unlock()

	c.enqueue(event{kind: eventChangeSymbol, symbol: symbol})
}

func (c *SyncCoordinator) AddListener(l domain.StreamListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *SyncCoordinator) Symbol() *domain.MarketSymbol {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbol
}

// State is non-blocking. While the stream is not connected, price and book
// are answered from the cache only, so they disappear once the entries expire.
func (c *SyncCoordinator) State() MarketState {
	c.mu.RLock()
	st := c.state
	code := c.code
	c.mu.RUnlock()

	st.ConnectionState = c.stream.State()
	st.IsConnected = st.ConnectionState == domain.ConnectionState_Connected
	if st.IsConnected {
		return st
	}

	st.Price = decimal.NullDecimal{}
	st.PriceChangePercent = decimal.NullDecimal{}
	st.Volume = decimal.NullDecimal{}
	st.OrderBook = nil

	if v, ok := c.cache.Get(PriceKey(code)); ok && v.Ticker != nil {
		st.setTicker(v.Ticker)
	}
	if v, ok := c.cache.Get(OrderBookKey(code)); ok && v.OrderBook != nil {
		st.OrderBook = v.OrderBook
	}

	return st
}

// OrderBookSnapshot reads the live book; false until the book is seeded.
func (c *SyncCoordinator) OrderBookSnapshot(limit int) (*domain.OrderBookSnapshot, bool) {
	c.mu.RLock()
	book := c.book
	c.mu.RUnlock()

	if !book.IsSeeded() {
		return nil, false
	}
	return book.TakeSnapshot(limit), true
}

func (c *SyncCoordinator) enqueue(ev event) {
	c.queueMu.Lock()
	c.queue.PushBack(ev)
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *SyncCoordinator) dequeue() (event, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	if c.queue.Len() == 0 {
		return event{}, false
	}
	return c.queue.PopFront(), true
}

func (c *SyncCoordinator) run() {
	defer close(c.done)

	for {
		if ev, ok := c.dequeue(); ok {
			c.handle(ev)
			continue
		}

		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}
	}
}

func (c *SyncCoordinator) handle(ev event) {
	switch ev.kind {
	case eventConnected:
		c.onConnected()
	case eventDisconnected:
		c.onDisconnected(ev.err)
	case eventTicker:
		c.onTicker(ev.ticker)
	case eventDepthUpdate:
		c.onDepthUpdate(ev.diff)
	case eventError:
		c.notify(func(l domain.StreamListener) { l.OnError(ev.err) })
	case eventReconnectFailed:
		c.onReconnectFailed()
	case eventSnapshot:
		c.onSnapshot(ev)
	case eventRetrySnapshot:
		c.onRetrySnapshot(ev.epoch)
	case eventRefresh:
		c.onRefresh()
	case eventChangeSymbol:
		c.onChangeSymbol(ev.symbol)
	}
}

func (c *SyncCoordinator) onConnected() {
	c.logger.Info("stream connected, requesting snapshot", zap.String("symbol", c.symbolLabel()))

	c.mu.Lock()
	c.state.IsConnected = true
	c.state.ConnectionState = domain.ConnectionState_Connected
	c.loadCachedLocked()
	c.mu.Unlock()

	c.resnapshot("connected")
	c.publish()
	c.notify(func(l domain.StreamListener) { l.OnConnected() })
}

func (c *SyncCoordinator) onDisconnected(err error) {
	c.invalidate()

	c.mu.Lock()
	c.state.IsConnected = false
	c.state.ConnectionState = c.stream.State()
	c.mu.Unlock()

	c.publish()
	c.notify(func(l domain.StreamListener) { l.OnDisconnected(err) })
}

func (c *SyncCoordinator) onReconnectFailed() {
	c.logger.Error("reconnect attempts exhausted", zap.String("symbol", c.symbolLabel()))

	c.mu.Lock()
	c.state.IsLoading = false
	c.state.Error = ErrReconnectExhausted.Error()
	c.mu.Unlock()

	c.publish()
	c.notify(func(l domain.StreamListener) { l.OnReconnectFailed() })
}

func (c *SyncCoordinator) onTicker(t *domain.TickerMessage) {
	code, _ := c.current()
	if t.Symbol != code {
		return
	}
	promclient.TickersCounter.WithLabelValues(c.symbolLabel()).Inc()

	c.mu.Lock()
	if c.code != code {
		c.mu.Unlock()
		return
	}
	c.state.setTicker(t)
	c.state.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.cache.SetWithTTL(PriceKey(code), CachedValue{Ticker: t}, c.cfg.EntryTTL)
	c.publish()
	c.notify(func(l domain.StreamListener) { l.OnTicker(t) })
}

func (c *SyncCoordinator) onDepthUpdate(diff *domain.DiffMessage) {
	code, book := c.current()
	if diff.Symbol != code {
		return
	}
	c.notify(func(l domain.StreamListener) { l.OnDepthUpdate(diff) })

	if c.gated {
		promclient.DiffsCounter.WithLabelValues(c.symbolLabel(), "gated").Inc()
		return
	}

	result := book.ApplyDiff(diff)
	promclient.DiffsCounter.WithLabelValues(c.symbolLabel(), result.String()).Inc()

	switch result {
	case domain.ApplyResult_Applied:
		c.publishBook(book)
	case domain.ApplyResult_OutOfOrder:
		c.logger.Info("sequence gap, resnapshotting",
			zap.String("symbol", code),
			zap.Int64("lastUpdateId", book.LastUpdateID()),
			zap.Int64("firstUpdateId", diff.FirstUpdateID))
		c.resnapshot("gap")
		c.publish()
	}
}

func (c *SyncCoordinator) onSnapshot(ev event) {
	if ev.epoch != c.epoch || !ev.symbol.Equal(c.Symbol()) {
		c.logger.Debug("discarded snapshot from a previous epoch", zap.Uint64("epoch", ev.epoch))
		return
	}

	if ev.err != nil {
		c.failures++
		err := fmt.Errorf("%w: %v", ErrSnapshotFailed, ev.err)
		delay := c.backoff.ForAttempt(float64(c.failures - 1))
		c.logger.Warn("snapshot fetch failed",
			zap.String("symbol", ev.symbol.String()),
			zap.Int("failures", c.failures),
			zap.Duration("retryIn", delay),
			zap.Error(ev.err))

		epoch := c.epoch
		c.mu.Lock()
		if c.failures >= c.cfg.FailureThreshold {
			c.state.Error = err.Error()
		}
		c.stopRetryLocked()
		c.retry = time.AfterFunc(delay, func() {
			c.enqueue(event{kind: eventRetrySnapshot, epoch: epoch})
		})
		c.mu.Unlock()

		c.publish()
		c.notify(func(l domain.StreamListener) { l.OnError(err) })
		return
	}

	c.failures = 0
	c.gated = false

	c.mu.Lock()
	book := c.book
	book.Seed(ev.snapshot)
	c.state.IsLoading = false
	c.state.Error = ""
	c.mu.Unlock()

	c.logger.Info("book seeded", zap.String("symbol", ev.symbol.String()), zap.Int64("lastUpdateId", ev.snapshot.LastUpdateID))
	c.publishBook(book)
}

func (c *SyncCoordinator) onRetrySnapshot(epoch uint64) {
	if epoch != c.epoch || !c.gated {
		return
	}
	promclient.ResnapshotsCounter.WithLabelValues(c.symbolLabel(), "retry").Inc()
	c.fetchSnapshot()
}

func (c *SyncCoordinator) onRefresh() {
	c.logger.Info("refresh requested", zap.String("symbol", c.symbolLabel()))
	c.invalidate()

	c.mu.Lock()
	c.book.Reset()
	c.state.IsLoading = true
	c.state.Error = ""
	c.mu.Unlock()

	c.stream.Connect()
	c.publish()
}

// onChangeSymbol switches the stream once ChangeSymbol has swapped the read
// model. The previous symbol's cache entries are left to expire.
func (c *SyncCoordinator) onChangeSymbol(symbol *domain.MarketSymbol) {
	if !symbol.Equal(c.Symbol()) {
		// superseded by a later change
		return
	}

	c.invalidate()

	c.logger.Info("symbol changed", zap.String("symbol", symbol.String()))
	c.stream.ChangeSymbol(symbol)
	c.publish()
}

// invalidate gates the book and orphans any in-flight snapshot or pending retry.
func (c *SyncCoordinator) invalidate() {
	c.epoch++
	c.gated = true

	c.mu.Lock()
	c.stopRetryLocked()
	c.mu.Unlock()
}

func (c *SyncCoordinator) resnapshot(reason string) {
	c.invalidate()

	c.mu.Lock()
	c.book.Reset()
	c.state.IsLoading = true
	c.mu.Unlock()

	promclient.ResnapshotsCounter.WithLabelValues(c.symbolLabel(), reason).Inc()
	c.fetchSnapshot()
}

func (c *SyncCoordinator) fetchSnapshot() {
	epoch := c.epoch
	c.mu.RLock()
	symbol := c.symbol
	c.mu.RUnlock()

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.FetchTimeout)
		defer cancel()

		snapshot, err := c.fetcher.OrderBookSnapshot(ctx, symbol, c.cfg.SnapshotDepth)
		c.enqueue(event{kind: eventSnapshot, epoch: epoch, symbol: symbol, snapshot: snapshot, err: err})
	}()
}

// publishBook is a no-op when book was replaced by a symbol change.
func (c *SyncCoordinator) publishBook(book *domain.OrderBook) {
	snapshot := book.TakeSnapshot(c.cfg.PublishDepth)

	c.mu.Lock()
	if c.book != book {
		c.mu.Unlock()
		return
	}
	code := c.code
	c.state.OrderBook = snapshot
	c.state.UpdatedAt = time.Now()
	c.mu.Unlock()

	c.cache.SetWithTTL(OrderBookKey(code), CachedValue{OrderBook: snapshot}, c.cfg.EntryTTL)
	c.publish()
}

func (c *SyncCoordinator) publish() {
	if c.sink == nil {
		return
	}
	state := c.State()
	c.sink.Publish(state.Symbol, state)
}

func (c *SyncCoordinator) notify(fn func(l domain.StreamListener)) {
	c.mu.RLock()
	listeners := make([]domain.StreamListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		fn(l)
	}
}

func (c *SyncCoordinator) loadCachedLocked() {
	if v, ok := c.cache.Get(PriceKey(c.code)); ok && v.Ticker != nil {
		c.state.setTicker(v.Ticker)
	}
	if v, ok := c.cache.Get(OrderBookKey(c.code)); ok && v.OrderBook != nil {
		c.state.OrderBook = v.OrderBook
	}
}

func (c *SyncCoordinator) current() (string, *domain.OrderBook) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.code, c.book
}

func (c *SyncCoordinator) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *SyncCoordinator) symbolLabel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.symbol.String()
}

// streamEvents queues stream callbacks for the worker.
type streamEvents struct {
	c *SyncCoordinator
}

func (e *streamEvents) OnConnected() {
	e.c.enqueue(event{kind: eventConnected})
}

func (e *streamEvents) OnDisconnected(err error) {
	e.c.enqueue(event{kind: eventDisconnected, err: err})
}

func (e *streamEvents) OnTicker(t *domain.TickerMessage) {
	e.c.enqueue(event{kind: eventTicker, ticker: t})
}

func (e *streamEvents) OnDepthUpdate(diff *domain.DiffMessage) {
	e.c.enqueue(event{kind: eventDepthUpdate, diff: diff})
}

func (e *streamEvents) OnError(err error) {
	e.c.enqueue(event{kind: eventError, err: err})
}

func (e *streamEvents) OnReconnectFailed() {
	e.c.enqueue(event{kind: eventReconnectFailed})
}
