package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter admits at most limit requests per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// StreamRead returns up to count entries after lastID, waiting at most
	// block for new entries. A zero block returns immediately.
	StreamRead(ctx context.Context, stream string, lastID string, count int, block time.Duration) ([]StreamMessage, error)
}

// Bus channels and streams shared between the writer and its consumers.
const (
	ChannelFunding     = "ch:funding"
	StreamFunding      = "stream:funding"
	StreamObservations = "stream:observations"
)
