package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

type chanBus struct{ ch chan []byte }

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }
func (b *chanBus) StreamRead(context.Context, string, string, int, time.Duration) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestOutcomeFrame(t *testing.T) {
	symbol, frame, err := outcomeFrame([]byte(`{"symbol":"ETH","seq":4}`))
	if err != nil {
		t.Fatalf("outcomeFrame: %v", err)
	}
	if symbol != "ETH" {
		t.Fatalf("symbol = %q", symbol)
	}
	var env struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if env.Type != "funding" || env.Payload["seq"] != float64(4) {
		t.Fatalf("frame = %+v", env)
	}

	if _, _, err := outcomeFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: initialSubs("BTC, ETH")}
	if !c.isSubscribed("BTC") || c.isSubscribed("SOL") {
		t.Fatalf("subs = %v", c.subs)
	}
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Symbols: []string{"BTC"}})
	got := c.handleSubscription(subscribeMsg{Action: "subscribe", Symbols: []string{"SOL"}})
	if strings.Join(got, ",") != "ETH,SOL" {
		t.Fatalf("ack symbols = %v", got)
	}
	if c.isSubscribed("BTC") || !c.isSubscribed("SOL") || !c.isSubscribed("ETH") {
		t.Fatalf("subs = %v", c.subs)
	}

	all := &client{subs: initialSubs("")}
	if !all.isSubscribed("HYPE") {
		t.Fatal("default subscription should cover every symbol")
	}
}

func TestHubStreamsOutcomes(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	hub := NewHub(bus, discardLogger(), Config{Mode: "full"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?symbols=BTC"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var env envelope
	if err := conn.ReadJSON(&env); err != nil || env.Type != "status" {
		t.Fatalf("first frame = %+v, %v", env, err)
	}

	bus.ch <- []byte(`{"symbol":"ETH","seq":1}`)
	bus.ch <- []byte(`{"symbol":"BTC","seq":2}`)

	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Symbol string `json:"symbol"`
		Seq    int    `json:"seq"`
	}
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if env.Type != "funding" || got.Symbol != "BTC" || got.Seq != 2 {
		t.Fatalf("frame = %s %+v", env.Type, got)
	}

	if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Symbols: []string{"ETH"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&env); err != nil || env.Type != "subscribed" {
		t.Fatalf("ack frame = %+v, %v", env, err)
	}

	bus.ch <- []byte(`{"symbol":"ETH","seq":3}`)
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(env.Payload, &got); err != nil || got.Symbol != "ETH" {
		t.Fatalf("frame after subscribe = %s %+v", env.Type, got)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub := NewHub(&chanBus{}, discardLogger(), Config{})
	c := &client{hub: hub, send: make(chan []byte, 1), subs: initialSubs("")}
	if !hub.add(c) {
		t.Fatal("add rejected")
	}

	hub.fanOut("BTC", []byte("one"))
	hub.fanOut("BTC", []byte("two"))
	if n := hub.clientCount(); n != 0 {
		t.Fatalf("clients = %d, want slow client removed", n)
	}
	if frame := <-c.send; string(frame) != "one" {
		t.Fatalf("queued frame = %q", frame)
	}
	if _, ok := <-c.send; ok {
		t.Fatal("send queue should be closed")
	}

	hub.remove(c)
	hub.deliver(c, []byte("late"))
}

func TestHubRejectsClientsAfterShutdown(t *testing.T) {
	hub := NewHub(&chanBus{ch: make(chan []byte)}, discardLogger(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	c := &client{hub: hub, send: make(chan []byte, 1), subs: initialSubs("")}
	if !hub.add(c) {
		t.Fatal("add rejected before shutdown")
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run = %v", err)
	}
	if _, ok := <-c.send; ok {
		t.Fatal("shutdown should close client queues")
	}
	if hub.add(&client{send: make(chan []byte, 1)}) {
		t.Fatal("add accepted after shutdown")
	}
}
