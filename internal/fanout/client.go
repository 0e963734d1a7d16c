// Package fanout serves browser clients over WebSocket: a tick server for
// per-second price series and a book server for order-book snapshots.
// Each server owns its own http.Server, client set and subscription state.
package fanout

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rick-more-Rick/donTrading/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 256
)

// client is one connected browser. symbol is the current registration;
// timeframe only matters on the tick server.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	symbol    string
	timeframe int
}

func newClient(conn *websocket.Conn, symbol string) *client {
	return &client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		symbol: symbol,
	}
}

func (c *client) currentSymbol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbol
}

func (c *client) setSymbol(sym string) {
	c.mu.Lock()
	c.symbol = sym
	c.mu.Unlock()
}

func (c *client) currentTimeframe() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeframe
}

func (c *client) setTimeframe(tf int) {
	c.mu.Lock()
	c.timeframe = tf
	c.mu.Unlock()
}

// enqueue hands a marshaled frame to the client's writer. It reports
// false when the client cannot keep up and should be dropped.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// enqueueJSON marshals and enqueues one frame.
func (c *client) enqueueJSON(v any, logger *slog.Logger) bool {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("marshal frame", "error", err)
		return true
	}
	return c.enqueue(data)
}

// writePump drains the send channel into the socket and keeps the
// connection alive with pings. Runs until the channel closes or a write
// fails.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client actions and dispatches them. onClose runs exactly
// once when the connection drops.
func (c *client) readPump(onAction func(*client, types.ClientAction), onClose func(*client), logger *slog.Logger) {
	defer func() {
		onClose(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("websocket error", "error", err)
			}
			return
		}

		var action types.ClientAction
		if err := json.Unmarshal(data, &action); err != nil {
			logger.Debug("ignoring malformed client message", "data", truncate(data, 100))
			continue
		}
		onAction(c, action)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
