// Package ws streams funding outcomes to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// envelope wraps every frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Config is the runtime metadata reported in the status frame.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans funding outcomes from the signal bus out to the WebSocket clients
// subscribed to their symbol. A client that cannot keep up is disconnected.
type Hub struct {
	bus       domain.SignalBus
	mode      string
	startedAt time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub reading outcomes from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		bus:       bus,
		mode:      mode,
		startedAt: startedAt,
		logger:    logger.With(slog.String("component", "ws_hub")),
		clients:   make(map[*client]struct{}),
	}
}

// Run relays outcomes until ctx is cancelled, then disconnects every client.
// A failed or dropped bus subscription leaves connected clients idle rather
// than stopping the server.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	outcomes, err := h.bus.Subscribe(ctx, domain.ChannelFunding)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", domain.ChannelFunding),
			slog.String("error", err.Error()),
		)
		<-ctx.Done()
		return ctx.Err()
	}
	h.logger.Info("ws: relaying outcomes", slog.String("channel", domain.ChannelFunding))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-outcomes:
			if !ok {
				h.logger.Warn("ws: outcome subscription closed")
				<-ctx.Done()
				return ctx.Err()
			}
			symbol, frame, err := outcomeFrame(data)
			if err != nil {
				h.logger.Warn("ws: dropping undecodable outcome", slog.String("error", err.Error()))
				continue
			}
			h.fanOut(symbol, frame)
		}
	}
}

// outcomeFrame wraps a published outcome in a "funding" envelope and returns
// its symbol for routing.
func outcomeFrame(payload []byte) (string, []byte, error) {
	var head struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", nil, err
	}
	frame, err := json.Marshal(envelope{Type: "funding", Payload: payload})
	if err != nil {
		return "", nil, err
	}
	return head.Symbol, frame, nil
}

// HandleWS upgrades the request and registers the client. ?symbols=BTC,ETH
// narrows the initial subscription; without it a client gets every market.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, r.URL.Query().Get("symbols"))
	if !h.add(c) {
		conn.Close()
		return
	}
	h.deliver(c, h.statusFrame())

	go c.writePump()
	go c.readPump()
}

func (h *Hub) statusFrame() []byte {
	uptime := max(int64(time.Since(h.startedAt).Seconds()), 0)
	payload, _ := json.Marshal(map[string]any{
		"mode":           h.mode,
		"uptime_seconds": uptime,
	})
	frame, _ := json.Marshal(envelope{Type: "status", Payload: payload})
	return frame
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.Int("clients", len(h.clients)))
	return true
}

// remove unregisters c and closes its send queue. Safe to call twice.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.logger.Info("ws: client disconnected", slog.Int("clients", len(h.clients)))
}

// deliver queues frame for c if it is still registered. Every send on a
// client queue happens under h.mu, which is what makes closing it safe.
func (h *Hub) deliver(c *client, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.enqueue(c, frame)
	}
}

func (h *Hub) fanOut(symbol string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.isSubscribed(symbol) {
			h.enqueue(c, frame)
		}
	}
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		delete(h.clients, c)
		close(c.send)
		h.logger.Warn("ws: disconnecting slow client", slog.Int("clients", len(h.clients)))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
	}
	clear(h.clients)
}

// clientCount returns the number of connected clients.
func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
