package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 20 // Ready payloads carry the whole mirror
)

// ErrAuthentication is returned when the upstream rejects the token.
var ErrAuthentication = errors.New("gateway: authentication rejected")

// errHeartbeatTimeout closes a connection whose Pongs stopped arriving.
var errHeartbeatTimeout = errors.New("gateway: heartbeat timeout")

// connection is one authenticated session with the upstream service.
type connection struct {
	client    *Client
	conn      *websocket.Conn
	sessionID string

	closeOnce sync.Once
	done      chan struct{}
	err       atomic.Value // first error that ended the session

	lastPong atomic.Int64 // unix millis
	sentSeq  atomic.Int64 // data of the newest Ping
	ackedSeq atomic.Int64 // data of the newest matching Pong
}

func newConnection(client *Client, ws *websocket.Conn, sessionID string) *connection {
	c := &connection{
		client:    client,
		conn:      ws,
		sessionID: sessionID,
		done:      make(chan struct{}),
	}
	c.lastPong.Store(time.Now().UnixMilli())
	return c
}

func (c *connection) close(err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			c.err.Store(err)
		}
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *connection) closeErr() error {
	if err, ok := c.err.Load().(error); ok {
		return err
	}
	return nil
}

func (c *connection) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// authenticate sends the token and waits for Authenticated.
func (c *connection) authenticate() error {
	if err := c.writeJSON(AuthenticateCommand{Type: CommandAuthenticate, Token: c.client.cfg.Token}); err != nil {
		return fmt.Errorf("sending authenticate: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.client.cfg.AuthTimeout))
	defer func() { _ = c.conn.SetReadDeadline(time.Time{}) }()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waiting for authenticated: %w", err)
		}
		typ, err := eventType(message)
		if err != nil {
			return err
		}
		switch typ {
		case EventAuthenticated:
			return nil
		case EventError:
			var ev ErrorEvent
			_ = json.Unmarshal(message, &ev)
			return fmt.Errorf("%w: %s", ErrAuthentication, ev.Error)
		}
	}
}

// run pumps the session until it ends and returns the reason.
func (c *connection) run(ctx context.Context) error {
	go c.writePump(ctx)
	c.readPump(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.closeErr()
}

// readPump reads events and hands mirror updates to the sink.
func (c *connection) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.close(fmt.Errorf("read: %w", err))
			}
			return
		}
		if err := c.handleMessage(ctx, message); err != nil {
			c.close(err)
			return
		}
	}
}

// writePump sends Pings on a timer and closes the session when the
// previous Pong is overdue.
func (c *connection) writePump(ctx context.Context) {
	interval := c.client.cfg.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-ticker.C:
			lastPong := time.UnixMilli(c.lastPong.Load())
			if seq > 0 && time.Since(lastPong) > interval+c.client.cfg.PongTimeout {
				slog.Warn("upstream heartbeat timeout", "sessionID", c.sessionID)
				c.close(errHeartbeatTimeout)
				return
			}
			seq++
			c.sentSeq.Store(seq)
			if err := c.writeJSON(PingCommand{Type: CommandPing, Data: seq}); err != nil {
				c.close(fmt.Errorf("write ping: %w", err))
				return
			}

		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			c.close(nil)
			return

		case <-c.done:
			return
		}
	}
}

// pong records a heartbeat reply. Only replies to a Ping of this session
// that was not acknowledged yet count as liveness.
func (c *connection) pong(ev PongEvent) {
	acked := c.ackedSeq.Load()
	if ev.Data <= acked || ev.Data > c.sentSeq.Load() {
		slog.Debug("ignoring unmatched upstream pong", "sessionID", c.sessionID, "data", ev.Data)
		return
	}
	if c.ackedSeq.CompareAndSwap(acked, ev.Data) {
		c.lastPong.Store(time.Now().UnixMilli())
	}
}

func (c *connection) handleMessage(ctx context.Context, data []byte) error {
	typ, err := eventType(data)
	if err != nil {
		slog.Error("invalid upstream payload", "sessionID", c.sessionID, "error", err)
		return nil
	}

	switch typ {
	case EventPong:
		var ev PongEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Error("invalid upstream pong", "sessionID", c.sessionID, "error", err)
			return nil
		}
		c.pong(ev)
		return nil
	case EventError:
		var ev ErrorEvent
		_ = json.Unmarshal(data, &ev)
		return fmt.Errorf("upstream error: %s", ev.Error)
	}

	update, err := decodeUpdate(typ, data)
	if err != nil {
		slog.Error("dropping malformed upstream event", "sessionID", c.sessionID, "type", typ, "error", err)
		return nil
	}
	if update == nil {
		slog.Debug("ignoring upstream event", "sessionID", c.sessionID, "type", typ)
		return nil
	}
	if err := c.client.sink.Submit(ctx, update); err != nil {
		return fmt.Errorf("submitting %s: %w", typ, err)
	}
	if typ == EventReady {
		c.client.ready.Store(true)
		slog.Info("upstream mirror ready", "sessionID", c.sessionID)
	}
	return nil
}
