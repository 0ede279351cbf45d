// Package notify delivers operator alerts (clamped funding rates, engine
// config changes, handler errors) to Telegram and Discord. Alerts are
// filtered by event type, and repeating alerts can be throttled.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithCooldown suppresses a repeat of the same event and title within d. Only
// the listed events are throttled. A market pinned at the rate cap produces
// one alert per cooldown instead of one per update.
func WithCooldown(d time.Duration, events ...string) Option {
	return func(n *Notifier) {
		n.cooldown = d
		for _, e := range events {
			n.throttled[e] = true
		}
	}
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// only allowed event types; NotifyAll bypasses the filter and the cooldown.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types, empty allows all

	cooldown  time.Duration
	throttled map[string]bool
	mu        sync.Mutex
	lastSent  map[string]time.Time
	clock     func() time.Time

	logger *slog.Logger
}

// NewNotifier creates a Notifier that delivers to senders. If events is empty,
// every event type is allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		senders:   senders,
		events:    make(map[string]bool, len(events)),
		throttled: make(map[string]bool),
		lastSent:  make(map[string]time.Time),
		clock:     time.Now,
		logger:    logger.With(slog.String("component", "notifier")),
	}
	for _, e := range events {
		n.events[strings.TrimSpace(e)] = true
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify sends a notification if event is allowed and not cooling down.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if !n.admit(event, title) {
		n.logger.DebugContext(ctx, "event in cooldown",
			slog.String("event", event),
			slog.String("title", title),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// admit records the send time of a throttled event and reports whether it may
// go out now.
func (n *Notifier) admit(event, title string) bool {
	if n.cooldown <= 0 || !n.throttled[event] {
		return true
	}
	key := event + "|" + title
	now := n.clock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.lastSent[key] = now
	return true
}

// dispatch sends to every sender. A failing sender does not stop delivery to
// the rest; failures come back as one combined error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
