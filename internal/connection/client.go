package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/relaymesh/internal/model"
	"github.com/rickgao/relaymesh/internal/version"
)

// Client represents a single WebSocket connection to one relay.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// URL returns the relay URL.
	URL() string

	// Query opens a subscription, collects events until EOSE and closes it.
	Query(ctx context.Context, filters ...model.Filter) ([]model.Event, error)

	// Publish sends an event and waits for the relay's OK.
	Publish(ctx context.Context, ev model.Event) error

	// IsConnected returns current connection state.
	IsConnected() bool

	// Done is closed when the connection ends for any reason.
	Done() <-chan struct{}

	// Err returns why the connection ended, nil while it is open.
	Err() error
}

// subscription is an open REQ waiting for frames.
type subscription struct {
	frames chan frame
	quit   chan struct{}
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastPongAt time.Time
	err        error

	// Correlation
	pendingMu sync.Mutex
	subs      map[string]*subscription
	oks       map[string]chan frame

	done     chan struct{}
	doneOnce sync.Once
}

// NewClient creates a new relay client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubBufferSize < 1 {
		cfg.SubBufferSize = DefaultClientConfig().SubBufferSize
	}

	return &client{
		cfg:    cfg,
		logger: logger.With("relay", cfg.URL),
		subs:   make(map[string]*subscription),
		oks:    make(map[string]chan frame),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return &RelayError{URL: c.cfg.URL, Op: "dial", Err: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("relay connected")
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.shutdown(ErrAlreadyClosed)

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *client) URL() string {
	return c.cfg.URL
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) Done() <-chan struct{} {
	return c.done
}

func (c *client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Query sends REQ with a fresh subscription id and returns the stored events
// the relay sends before EOSE.
func (c *client) Query(ctx context.Context, filters ...model.Filter) ([]model.Event, error) {
	if !c.IsConnected() {
		return nil, c.relayErr("query", ErrNotConnected)
	}

	subID := uuid.NewString()
	sub := &subscription{
		frames: make(chan frame, c.cfg.SubBufferSize),
		quit:   make(chan struct{}),
	}

	c.pendingMu.Lock()
	c.subs[subID] = sub
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.subs, subID)
		c.pendingMu.Unlock()
		close(sub.quit)
	}()

	req, err := encodeReq(subID, filters...)
	if err != nil {
		return nil, c.relayErr("query", err)
	}
	if err := c.send(req); err != nil {
		return nil, c.relayErr("query", err)
	}

	var events []model.Event
	for {
		select {
		case <-ctx.Done():
			c.closeSub(subID)
			return nil, c.relayErr("query", ctx.Err())

		case <-c.done:
			return nil, c.relayErr("query", c.lostErr())

		case f := <-sub.frames:
			switch f.Label {
			case labelEvent:
				if err := f.Event.Validate(); err != nil {
					c.logger.Debug("dropping invalid event", "error", err)
					continue
				}
				events = append(events, f.Event)

			case labelEOSE:
				c.closeSub(subID)
				return events, nil

			case labelClosed:
				return nil, c.relayErr("query", fmt.Errorf("%w: %s", ErrSubscriptionClosed, f.Message))
			}
		}
	}
}

// Publish sends EVENT and waits for the matching OK.
func (c *client) Publish(ctx context.Context, ev model.Event) error {
	if !c.IsConnected() {
		return c.relayErr("publish", ErrNotConnected)
	}

	okCh := make(chan frame, 1)
	c.pendingMu.Lock()
	c.oks[ev.ID] = okCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		if c.oks[ev.ID] == okCh {
			delete(c.oks, ev.ID)
		}
		c.pendingMu.Unlock()
	}()

	data, err := encodeEvent(ev)
	if err != nil {
		return c.relayErr("publish", err)
	}
	if err := c.send(data); err != nil {
		return c.relayErr("publish", err)
	}

	select {
	case <-ctx.Done():
		return c.relayErr("publish", ctx.Err())
	case <-c.done:
		return c.relayErr("publish", c.lostErr())
	case f := <-okCh:
		if !f.Accepted {
			return c.relayErr("publish", fmt.Errorf("%w: %s", ErrRejected, f.Message))
		}
		return nil
	}
}

// send writes one text frame.
func (c *client) send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// closeSub tells the relay to drop a subscription. Best effort.
func (c *client) closeSub(subID string) {
	data, err := encodeClose(subID)
	if err != nil {
		return
	}
	if err := c.send(data); err != nil {
		c.logger.Debug("failed to send CLOSE", "sub", subID, "error", err)
	}
}

// readLoop reads frames and routes them to waiting queries and publishes.
func (c *client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}

		f, err := decodeFrame(data)
		if err != nil {
			c.logger.Debug("ignoring frame", "error", err)
			continue
		}

		switch f.Label {
		case labelEvent, labelEOSE, labelClosed:
			c.routeSub(f)
		case labelOK:
			c.routeOK(f)
		case labelNotice:
			c.logger.Debug("relay notice", "message", f.Message)
		}
	}
}

// routeSub delivers a frame to its subscription, waiting while the
// subscriber drains its buffer.
func (c *client) routeSub(f frame) {
	c.pendingMu.Lock()
	sub, ok := c.subs[f.SubID]
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	select {
	case sub.frames <- f:
	case <-sub.quit:
	case <-c.done:
	}
}

// routeOK sends an OK to the waiting publisher.
func (c *client) routeOK(f frame) {
	c.pendingMu.Lock()
	ch, ok := c.oks[f.EventID]
	if ok {
		delete(c.oks, f.EventID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- f:
		default:
		}
	}
}

// heartbeatLoop pings the relay and ends stale connections.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPong) > c.cfg.PingTimeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", c.cfg.PingTimeout,
				)
				c.shutdown(ErrStaleConnection)
				c.conn.Close()
				return
			}
		}
	}
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

// shutdown records why the connection ended and releases all waiters.
func (c *client) shutdown(reason error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.err = reason
		closing := c.closed
		c.mu.Unlock()

		close(c.done)
		if !closing {
			c.logger.Debug("relay connection ended", "error", reason)
		}
	})
}

func (c *client) lostErr() error {
	if err := c.Err(); err != nil && err != ErrAlreadyClosed {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return ErrConnectionLost
}

func (c *client) relayErr(op string, err error) error {
	return &RelayError{URL: c.cfg.URL, Op: op, Err: err}
}

// NewDialer returns a DialFunc that connects clients built from base.
func NewDialer(base ClientConfig, logger *slog.Logger) DialFunc {
	return func(ctx context.Context, url string) (Client, error) {
		cfg := base
		cfg.URL = url
		c := NewClient(cfg, logger)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}
