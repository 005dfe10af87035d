package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victorivanov/permd/internal/store"
)

// Sink receives mirror updates decoded from the event stream.
type Sink interface {
	Submit(ctx context.Context, u store.Update) error
}

// Config controls the upstream connection.
type Config struct {
	URL               string
	Token             string
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	AuthTimeout       time.Duration
	MinBackoff        time.Duration
	MaxBackoff        time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(c.MinBackoff, time.Minute)
	}
	return c
}

// Client keeps a session open with the upstream chat service and feeds
// its events into a Sink, reconnecting with exponential backoff.
type Client struct {
	cfg    Config
	sink   Sink
	dialer *websocket.Dialer

	mu        sync.RWMutex
	sessionID string
	connected atomic.Bool
	ready     atomic.Bool
}

// NewClient creates a new upstream Client.
func NewClient(cfg Config, sink Sink) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		sink:   sink,
		dialer: websocket.DefaultDialer,
	}
}

// Connected reports whether an authenticated session is open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Ready reports whether a Ready event has been mirrored at least once.
func (c *Client) Ready() bool { return c.ready.Load() }

// SessionID returns the id of the current or most recent session.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Run connects and reconnects until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		authenticated, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if authenticated {
			backoff = c.cfg.MinBackoff
		}
		slog.Warn("upstream session ended", "sessionID", c.SessionID(), "error", err, "retryIn", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

// session runs one connection from dial to close.
func (c *Client) session(ctx context.Context) (authenticated bool, err error) {
	sessionID := uuid.NewString()
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	conn := newConnection(c, ws, sessionID)
	defer conn.close(nil)

	if err := conn.authenticate(); err != nil {
		return false, err
	}

	slog.Info("upstream session authenticated", "sessionID", sessionID)
	c.connected.Store(true)
	defer c.connected.Store(false)

	return true, conn.run(ctx)
}
