package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// allSymbols subscribes a client to every market.
	allSymbols = "*"
)

// subscribeMsg changes a client's symbols:
// {"action":"subscribe","symbols":["BTC","ETH"]}.
type subscribeMsg struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn, symbols string) *client {
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: initialSubs(symbols),
	}
}

func initialSubs(query string) map[string]bool {
	subs := make(map[string]bool)
	for _, s := range strings.Split(query, ",") {
		if s = strings.TrimSpace(s); s != "" {
			subs[s] = true
		}
	}
	if len(subs) == 0 {
		subs[allSymbols] = true
	}
	return subs
}

func (c *client) isSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allSymbols] || c.subs[symbol]
}

// handleSubscription applies msg and returns the resulting symbols, sorted.
func (c *client) handleSubscription(msg subscribeMsg) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, s := range msg.Symbols {
			c.subs[s] = true
		}
	case "unsubscribe":
		for _, s := range msg.Symbols {
			delete(c.subs, s)
		}
	}

	symbols := make([]string, 0, len(c.subs))
	for s := range c.subs {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	return symbols
}

func subscribedFrame(symbols []string) []byte {
	payload, _ := json.Marshal(map[string]any{"symbols": symbols})
	frame, _ := json.Marshal(envelope{Type: "subscribed", Payload: payload})
	return frame
}

// readPump applies subscription messages until the connection fails.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) != nil || msg.Action == "" {
			continue
		}
		c.hub.deliver(c, subscribedFrame(c.handleSubscription(msg)))
	}
}

// writePump writes queued frames and keepalive pings. A closed queue sends a
// close frame and ends the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
