// Package results implements the push channel delivering asynchronous
// posture updates and notifications, decoupled from the requests that
// triggered analysis.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/wellness/vigil/internal/types"
)

// Handlers receive classified messages. Both are invoked from the single
// read-loop goroutine, in receipt order.
type Handlers struct {
	// OnPosture receives each posture update message.
	OnPosture func(types.PostureSnapshot)
	// OnNotification receives each transient notification.
	OnNotification func(types.Notification)
}

// Channel is one long-lived websocket connection to the server. It does not
// reconnect on its own: when the read loop exits, Done() is closed and the
// surrounding lifecycle decides whether to dial again.
type Channel struct {
	conn *websocket.Conn

	handlers Handlers
	done     chan struct{}

	closeOnce sync.Once

	postureCount      atomic.Uint64
	notificationCount atomic.Uint64
	malformedCount    atomic.Uint64
}

// Dial opens the connection and starts the read loop.
func Dial(ctx context.Context, socketURL string, handlers Handlers) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &Channel{
		conn:     conn,
		handlers: handlers,
		done:     make(chan struct{}),
	}

	go c.readLoop()

	slog.Info("result channel connected", "url", socketURL)
	return c, nil
}

// Done is closed when the read loop has exited (connection lost or Close).
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close tears down the connection. Idempotent.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Stats returns (posture updates, notifications, malformed messages) seen.
func (c *Channel) Stats() (posture, notifications, malformed uint64) {
	return c.postureCount.Load(), c.notificationCount.Load(), c.malformedCount.Load()
}

func (c *Channel) readLoop() {
	defer close(c.done)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("result channel read error", "error", err)
			} else {
				slog.Info("result channel closed")
			}
			return
		}

		c.classify(message)
	}
}

// classify routes one raw message by shape. Malformed messages are logged
// and dropped; the connection stays open.
func (c *Channel) classify(message []byte) {
	var probe struct {
		Type          string `json:"type"`
		PostureStatus string `json:"posture_status"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		c.malformedCount.Add(1)
		slog.Warn("discarding malformed channel message", "error", err)
		return
	}

	switch {
	case probe.Type == "NOTIFICATION":
		var notification types.Notification
		if err := json.Unmarshal(message, &notification); err != nil || notification.Message == "" {
			c.malformedCount.Add(1)
			slog.Warn("discarding notification with no message")
			return
		}
		c.notificationCount.Add(1)
		if c.handlers.OnNotification != nil {
			c.handlers.OnNotification(notification)
		}

	case probe.PostureStatus != "":
		var snapshot types.PostureSnapshot
		if err := json.Unmarshal(message, &snapshot); err != nil {
			c.malformedCount.Add(1)
			slog.Warn("discarding malformed posture update", "error", err)
			return
		}
		c.postureCount.Add(1)
		if c.handlers.OnPosture != nil {
			c.handlers.OnPosture(snapshot)
		}

	default:
		c.malformedCount.Add(1)
		slog.Warn("discarding channel message of unknown shape")
	}
}
