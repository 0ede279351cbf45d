package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

const (
	// defaultStreamMaxLen caps intake streams through XADD MAXLEN ~.
	defaultStreamMaxLen int64 = 10000
	// subscriberBuffer is the per-subscription delivery buffer.
	subscriberBuffer = 128
	// payloadField is the stream field that carries an encoded message.
	payloadField = "payload"
)

// SignalBus implements domain.SignalBus. Committed outcomes fan out over
// Pub/Sub; observations queue on Redis Streams for the intake workers.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus on c. A non-positive maxLen uses
// defaultStreamMaxLen.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends payload on a Pub/Sub channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, or on every matching channel when it holds a
// glob pattern. The returned channel closes when ctx is done or the
// subscription drops.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	subscribe := b.rdb.Subscribe
	if hasPattern(channel) {
		subscribe = b.rdb.PSubscribe
	}
	ps := subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go forward(ctx, ps, out)
	return out, nil
}

// forward copies message payloads from ps to out until ctx ends.
func forward(ctx context.Context, ps *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer ps.Close()

	in := ps.Channel()
	for {
		var msg *redis.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			msg = m
		}
		select {
		case out <- []byte(msg.Payload):
		case <-ctx.Done():
			return
		}
	}
}

// hasPattern reports whether channel needs PSUBSCRIBE.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend adds payload to stream, trimming it to about maxLen entries.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		ID:     "*",
		Values: []any{payloadField, payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" for the start, "$"
// for new entries only), waiting up to block when the stream is drained. No
// entries is not an error.
//
// An entry carries its "payload" field; an entry written as a flat field map
// is handed over as that map in JSON. Anything else has a nil payload so the
// caller can still skip it.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	streams, err := b.rdb.XRead(ctx, readArgs(stream, lastID, count, block)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: xread %s: %w", stream, err)
	}

	var out []domain.StreamMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, domain.StreamMessage{ID: m.ID, Payload: entryPayload(m.Values)})
		}
	}
	return out, nil
}

// readArgs builds the XREAD arguments. A non-positive block reads without
// BLOCK; a positive one is at least a millisecond, since go-redis sends
// anything shorter as BLOCK 0, which waits forever.
func readArgs(stream, lastID string, count int, block time.Duration) *redis.XReadArgs {
	args := &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}
	if block > 0 {
		args.Block = max(block, time.Millisecond)
	}
	return args
}

func entryPayload(values map[string]any) []byte {
	raw, ok := values[payloadField]
	if !ok {
		if len(values) == 0 {
			return nil
		}
		data, err := json.Marshal(values)
		if err != nil {
			return nil
		}
		return data
	}
	switch v := raw.(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
