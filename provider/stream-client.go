package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/spooky-finn/orderbook-sync/domain"
	promclient "github.com/spooky-finn/orderbook-sync/infrastructure/prometheus"
	"go.uber.org/zap"
)

var (
	ErrMalformedMessage = errors.New("malformed stream message")
	ErrNoSubscriptions  = errors.New("no subscriptions")
)

const (
	DefaultBaseDelay        = time.Second
	DefaultMaxDelay         = 30 * time.Second
	DefaultMaxAttempts      = 5
	DefaultReadTimeout      = time.Minute
	DefaultHandshakeTimeout = 10 * time.Second

	readLimit = 655350
	writeWait = 5 * time.Second
)

type StreamClientConfig struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxAttempts      int
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
}

func (c StreamClientConfig) withDefaults() StreamClientConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return c
}

type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Timer is a pending reconnect. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

type Scheduler func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type StreamClientOption func(*StreamClient)

func WithDialer(d Dialer) StreamClientOption {
	return func(c *StreamClient) {
		c.dialer = d
	}
}

func WithScheduler(s Scheduler) StreamClientOption {
	return func(c *StreamClient) {
		c.schedule = s
	}
}

// StreamClient owns one socket, its subscription set and the reconnect state machine:
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting ...
//	Reconnecting -> Failed after MaxAttempts consecutive failures
//
// Every (re)connect starts a new session; callbacks from an older session are dropped.
type StreamClient struct {
	venue    Venue
	cfg      StreamClientConfig
	backoff  *backoff.Backoff
	dialer   Dialer
	schedule Scheduler
	logger   *zap.Logger

	mu       sync.Mutex
	listener domain.StreamListener
	state    domain.ConnectionState
	subs     []domain.Subscription
	attempt  int
	session  uint64
	conn     *websocket.Conn
	cancel   context.CancelFunc
	timer    Timer
}

func NewStreamClient(venue Venue, cfg StreamClientConfig, logger *zap.Logger, opts ...StreamClientOption) *StreamClient {
	cfg = cfg.withDefaults()

	c := &StreamClient{
		venue: venue,
		cfg:   cfg,
		backoff: &backoff.Backoff{
			Min:    cfg.BaseDelay,
			Max:    cfg.MaxDelay,
			Factor: 2,
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		schedule: afterFunc,
		logger:   logger.Named(venue.ID()),
		listener: domain.NopStreamListener{},
		state:    domain.ConnectionState_Disconnected,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *StreamClient) SetListener(l domain.StreamListener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l == nil {
		l = domain.NopStreamListener{}
	}
	c.listener = l
}

func (c *StreamClient) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *StreamClient) Subscriptions() []domain.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := make([]domain.Subscription, len(c.subs))
	copy(subs, c.subs)
	return subs
}

func (c *StreamClient) SymbolCode(symbol *domain.MarketSymbol) string {
	return c.venue.SymbolCode(symbol)
}

// Connect opens a fresh socket for the current subscription set, tearing down
// any previous socket or pending reconnect. It returns immediately; results
// arrive through the listener. It also resets the attempt counter, which is
// the only way out of Failed.
func (c *StreamClient) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempt = 0
	c.startLocked()
}

// Disconnect is safe in any state and cancels a pending reconnect.
func (c *StreamClient) Disconnect() {
	c.mu.Lock()
	prev := c.state
	c.teardownLocked()
	c.setStateLocked(domain.ConnectionState_Disconnected)
	listener := c.listener
	c.mu.Unlock()

	if prev != domain.ConnectionState_Disconnected {
		c.logger.Info("disconnected by caller", zap.Stringer("from", prev))
		listener.OnDisconnected(nil)
	}
}

// Subscribe adds sub; a live connection is restarted to pick up the new stream list.
func (c *StreamClient) Subscribe(sub domain.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.subs {
		if s.Equal(sub) {
			return false
		}
	}
	c.subs = append(c.subs, sub)
	c.restartIfConnectedLocked()
	return true
}

func (c *StreamClient) Unsubscribe(sub domain.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.subs {
		if s.Equal(sub) {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			c.restartIfConnectedLocked()
			return true
		}
	}
	return false
}

// ChangeSymbol moves every subscription to symbol and forces a new session.
func (c *StreamClient) ChangeSymbol(symbol *domain.MarketSymbol) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := make([]domain.Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		moved := s.WithSymbol(symbol)
		duplicate := false
		for _, existing := range subs {
			if existing.Equal(moved) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			subs = append(subs, moved)
		}
	}
	c.subs = subs

	c.logger.Info("symbol changed", zap.Stringer("symbol", symbol))
	c.attempt = 0
	c.startLocked()
}

func (c *StreamClient) restartIfConnectedLocked() {
	if c.state == domain.ConnectionState_Connected {
		c.startLocked()
	}
}

func (c *StreamClient) startLocked() {
	c.teardownLocked()
	c.setStateLocked(domain.ConnectionState_Connecting)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	subs := make([]domain.Subscription, len(c.subs))
	copy(subs, c.subs)

	go c.run(ctx, c.session, subs)
}

// teardownLocked ends the current session: pending timer, in-flight dial and socket.
func (c *StreamClient) teardownLocked() {
	c.session++

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *StreamClient) setStateLocked(state domain.ConnectionState) {
	c.state = state
	promclient.ConnectionStateGauge.WithLabelValues(c.venue.ID(), c.symbolLabelLocked()).Set(float64(state))
}

func (c *StreamClient) symbolLabelLocked() string {
	if len(c.subs) == 0 || c.subs[0].Symbol == nil {
		return ""
	}
	return c.subs[0].Symbol.String()
}

func (c *StreamClient) run(ctx context.Context, session uint64, subs []domain.Subscription) {
	conn, err := c.open(ctx, subs)
	if err != nil {
		c.handleClose(session, err)
		return
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.attempt = 0
	c.setStateLocked(domain.ConnectionState_Connected)
	listener := c.listener
	c.mu.Unlock()

	c.logger.Info("connected", zap.Int("streams", len(subs)))
	listener.OnConnected()

	if interval := c.venue.PingInterval(); interval > 0 {
		go c.pingLoop(ctx, conn, interval)
	}

	c.handleClose(session, c.readLoop(ctx, session, conn))
}

func (c *StreamClient) open(ctx context.Context, subs []domain.Subscription) (*websocket.Conn, error) {
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}

	url, err := c.venue.URL(ctx, subs)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream url: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.venue.ID(), err)
	}

	conn.SetReadLimit(readLimit)
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	if err := c.venue.OnConnect(ctx, conn, subs); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to init %s stream: %w", c.venue.ID(), err)
	}

	return conn, nil
}

func (c *StreamClient) readLoop(ctx context.Context, session uint64, conn *websocket.Conn) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return err
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		c.mu.Lock()
		current := c.session == session
		listener := c.listener
		c.mu.Unlock()
		if !current || ctx.Err() != nil {
			return ctx.Err()
		}

		c.dispatch(listener, frame)
	}
}

func (c *StreamClient) dispatch(listener domain.StreamListener, frame []byte) {
	msg, err := c.venue.Decode(frame)
	if err != nil {
		promclient.MalformedMessagesCounter.WithLabelValues(c.venue.ID()).Inc()
		c.logger.Warn("dropped malformed message", zap.Error(err), zap.ByteString("frame", truncate(frame, 256)))
		listener.OnError(fmt.Errorf("%w: %v", ErrMalformedMessage, err))
		return
	}

	switch msg.Kind {
	case domain.MessageKind_Ticker:
		listener.OnTicker(msg.Ticker)
	case domain.MessageKind_DepthUpdate:
		listener.OnDepthUpdate(msg.Diff)
	}
}

func (c *StreamClient) pingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.venue.OnPing(conn); err != nil {
				c.logger.Warn("ping failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

// handleClose moves a live session to Reconnecting, or to Failed once the
// attempts are used up. Closes of superseded sessions are ignored.
func (c *StreamClient) handleClose(session uint64, cause error) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	listener := c.listener

	if c.attempt >= c.cfg.MaxAttempts {
		c.setStateLocked(domain.ConnectionState_Failed)
		attempts := c.attempt
		c.mu.Unlock()

		c.logger.Error("reconnect attempts exhausted", zap.Int("attempts", attempts), zap.Error(cause))
		listener.OnDisconnected(cause)
		listener.OnReconnectFailed()
		return
	}

	c.attempt++
	attempt := c.attempt
	delay := c.backoff.ForAttempt(float64(attempt))
	c.setStateLocked(domain.ConnectionState_Reconnecting)
	c.timer = c.schedule(delay, func() {
		c.reconnect(session)
	})
	c.mu.Unlock()

	promclient.ReconnectsCounter.WithLabelValues(c.venue.ID()).Inc()
	c.logger.Warn("connection closed, reconnect scheduled",
		zap.Error(cause), zap.Int("attempt", attempt), zap.Duration("delay", delay))
	listener.OnDisconnected(cause)
}

func (c *StreamClient) reconnect(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != session || c.state != domain.ConnectionState_Reconnecting {
		return
	}
	c.timer = nil
	c.startLocked()
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
