package reader

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"cryptofeeds/internal/marketdata"
	"cryptofeeds/internal/metrics"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/logger"
)

// State is a step of the connection lifecycle.
type State int

const (
	StateConnecting State = iota
	StateSubscribing
	StateStreaming
	StateBackoffWait
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateBackoffWait:
		return "backoff_wait"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ConnectionConfig holds the timing parameters of the lifecycle.
type ConnectionConfig struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	HeartbeatInterval time.Duration
	MessageTimeout    time.Duration
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	RetryResetAfter   time.Duration
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		InitialBackoff:    time.Second,
		MaxBackoff:        60 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		MessageTimeout:    90 * time.Second,
		ConnectTimeout:    10 * time.Second,
		WriteTimeout:      10 * time.Second,
		RetryResetAfter:   5 * time.Minute,
	}
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	d := DefaultConnectionConfig()
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = d.MessageTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.RetryResetAfter <= 0 {
		c.RetryResetAfter = d.RetryResetAfter
	}
	return c
}

const maxBackoffDoublings = 10

// CalculateBackoff returns min(initial * 2^retry, max) with retry saturated at
// ten doublings.
func CalculateBackoff(retry int, initial, max time.Duration) time.Duration {
	if retry < 0 {
		retry = 0
	}
	if retry > maxBackoffDoublings {
		retry = maxBackoffDoublings
	}
	d := initial * time.Duration(1<<uint(retry))
	if d > max {
		return max
	}
	return d
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Connection runs one feed until its context is cancelled or it hits a
// configuration error. Only the Run goroutine touches its fields.
type Connection struct {
	name     string
	feed     Feed
	symbols  []string
	store    *marketdata.Collection
	registry *symbols.Registry
	cfg      ConnectionConfig
	dialer   Dialer
	log      *logger.Entry
	now      func() time.Time
	onState  func(State)
	limiter  *rate.Limiter

	state       State
	retryCount  int
	lastSuccess time.Time
	prepared    bool
}

func NewConnection(name string, feed Feed, syms []string, store *marketdata.Collection, registry *symbols.Registry, cfg ConnectionConfig) *Connection {
	cfg = cfg.withDefaults()
	return &Connection{
		name:     name,
		feed:     feed,
		symbols:  syms,
		store:    store,
		registry: registry,
		cfg:      cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		log:     logger.GetLogger().WithFeed(name),
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// SetDialer replaces the websocket dialer. Call before Run.
func (c *Connection) SetDialer(d Dialer) { c.dialer = d }

// OnStateChange registers a callback invoked synchronously on every
// transition. Call before Run.
func (c *Connection) OnStateChange(fn func(State)) { c.onState = fn }

// RetryCount is the current backoff exponent. Read it from the state callback
// or after Run returns.
func (c *Connection) RetryCount() int { return c.retryCount }

func (c *Connection) State() State { return c.state }

func (c *Connection) Name() string { return c.name }

// Run drives the lifecycle. It returns nil on cancellation and an error
// wrapping ErrInvalidConfig when the feed cannot be configured.
func (c *Connection) Run(ctx context.Context) error {
	defer c.setState(StateShutdown)

	for {
		c.setState(StateConnecting)
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.log.Info("connection shut down")
			return nil
		}
		if errors.Is(err, ErrInvalidConfig) {
			c.log.WithError(err).Error("configuration error, connection stopped")
			return err
		}
		c.log.WithError(err).WithField("retry", c.retryCount).Warn("connection lost")
		metrics.ObserveLimit(c.name, err.Error())

		if !c.backoff(ctx) {
			c.log.Info("connection shut down")
			return nil
		}
	}
}

func (c *Connection) backoff(ctx context.Context) bool {
	c.setState(StateBackoffWait)
	metrics.ObserveReconnect(c.name)

	if !c.lastSuccess.IsZero() && c.now().Sub(c.lastSuccess) > c.cfg.RetryResetAfter {
		c.retryCount = 0
		c.lastSuccess = time.Time{}
	}
	delay := CalculateBackoff(c.retryCount, c.cfg.InitialBackoff, c.cfg.MaxBackoff)
	c.log.WithFields(logger.Fields{"delay": delay.String(), "retry": c.retryCount}).Info("waiting before reconnect")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}
	c.retryCount++
	return true
}

func (c *Connection) session(ctx context.Context) error {
	if p, ok := c.feed.(Preparer); ok && !c.prepared {
		if err := p.Prepare(ctx, c.symbols); err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		c.prepared = true
	}

	url, err := c.feed.BuildURL(c.symbols)
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return err
		}
		return fmt.Errorf("%w: build url: %v", ErrInvalidConfig, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	ws, resp, err := c.dialer.DialContext(dialCtx, url, nil)
	cancel()
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("connect: %w", err)
	}
	defer ws.Close()

	// Closing the socket unblocks any pending read or write on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-stop:
		}
	}()

	log := c.log.WithField("session", uuid.NewString())
	log.WithField("url", url).Info("connected")

	c.setState(StateSubscribing)
	conn := &deadlineConn{ws: ws, timeout: c.cfg.WriteTimeout}
	if err := c.feed.SendSubscription(conn, c.symbols); err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return err
		}
		return fmt.Errorf("subscribe: %w", err)
	}

	c.retryCount = 0
	c.lastSuccess = c.now()
	c.setState(StateStreaming)
	return c.stream(ctx, ws, conn, log)
}

type frame struct {
	msg        Message
	receivedAt time.Time
	err        error
}

func (c *Connection) stream(ctx context.Context, ws *websocket.Conn, conn Conn, log *logger.Entry) error {
	var lastSeen atomic.Int64
	touch := func() { lastSeen.Store(c.now().UnixNano()) }
	touch()

	ws.SetPongHandler(func(string) error {
		touch()
		return nil
	})
	ws.SetPingHandler(func(data string) error {
		touch()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})

	frames := make(chan frame)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			typ, data, err := ws.ReadMessage()
			f := frame{msg: Message{Type: typ, Data: data}, receivedAt: c.now(), err: err}
			select {
			case frames <- f:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			idle := c.now().Sub(time.Unix(0, lastSeen.Load()))
			if idle > c.cfg.MessageTimeout {
				return fmt.Errorf("no messages for %s", idle.Round(time.Millisecond))
			}
			if err := c.heartbeat(ws, conn); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case f := <-frames:
			if f.err != nil {
				return fmt.Errorf("read: %w", f.err)
			}
			touch()
			if err := c.handle(conn, f, log); err != nil {
				return err
			}
		}
	}
}

func (c *Connection) heartbeat(ws *websocket.Conn, conn Conn) error {
	if msg := c.feed.HeartbeatMessage(); msg != nil {
		return Send(conn, *msg)
	}
	return ws.WriteControl(websocket.PingMessage, nil, c.now().Add(c.cfg.WriteTimeout))
}

func (c *Connection) handle(conn Conn, f frame, log *logger.Entry) error {
	metrics.ObserveFrame(c.name, len(f.msg.Data))

	upd, err := c.feed.ParseMessage(f.msg, f.receivedAt)
	if err != nil {
		metrics.ObserveParseError(c.name)
		if c.limiter.Allow() {
			log.WithError(err).Warn("failed to parse message")
		}
		return nil
	}
	if upd == nil {
		if err := c.feed.ProcessOther(conn, f.msg); err != nil {
			return fmt.Errorf("process message: %w", err)
		}
		return nil
	}

	c.publish(*upd, f.receivedAt, log)
	return nil
}

// publish is the single gate in front of the store: crossed, empty and
// unmapped quotes never reach it.
func (c *Connection) publish(upd Update, receivedAt time.Time, log *logger.Entry) {
	md := upd.Data
	if md.Empty() {
		metrics.ObserveDropped(c.name, "empty")
		return
	}
	if md.Crossed() {
		metrics.ObserveDropped(c.name, "crossed")
		log.WithFields(logger.Fields{"symbol": upd.Symbol, "bid": md.Bid, "ask": md.Ask}).Debug("dropping crossed quote")
		return
	}
	id, ok := c.registry.Lookup(upd.Symbol, c.feed.InstrumentType())
	if !ok {
		metrics.ObserveDropped(c.name, "unknown_symbol")
		return
	}
	if md.ReceivedTime.IsZero() {
		md.ReceivedTime = receivedAt
	}
	c.store.Insert(id, md)
	metrics.ObserveUpdate(c.name)
}

func (c *Connection) setState(s State) {
	c.state = s
	metrics.SetState(c.name, int(s))
	c.log.WithField("state", s.String()).Debug("state change")
	if c.onState != nil {
		c.onState(s)
	}
}

// deadlineConn bounds every data write.
type deadlineConn struct {
	ws      *websocket.Conn
	timeout time.Duration
}

func (d *deadlineConn) WriteMessage(messageType int, data []byte) error {
	if err := d.ws.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
		return err
	}
	return d.ws.WriteMessage(messageType, data)
}
