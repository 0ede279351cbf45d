// Package outcome delivers committed funding outcomes to downstream handlers
// in commit order.
package outcome

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// flushTimeout bounds delivery of what is left once the run context is
// cancelled.
const flushTimeout = 5 * time.Second

// Handler processes one outcome. Handlers own their error reporting.
type Handler func(ctx context.Context, o domain.FundingOutcome)

type namedHandler struct {
	name string
	fn   Handler
}

// Stream is an unbounded in-memory queue of outcomes. Append is safe to call
// from inside the engine's critical sections: it never blocks on I/O.
type Stream struct {
	mu       sync.Mutex
	queue    []domain.FundingOutcome
	seq      uint64
	closed   bool
	wake     chan struct{}
	handlers []namedHandler
	logger   *slog.Logger
}

// NewStream creates an empty stream.
func NewStream(logger *slog.Logger) *Stream {
	return &Stream{
		wake:   make(chan struct{}, 1),
		logger: logger.With(slog.String("component", "outcome_stream")),
	}
}

// Subscribe registers a handler. Handlers run in registration order; it must
// be called before Run.
func (s *Stream) Subscribe(name string, h Handler) {
	s.handlers = append(s.handlers, namedHandler{name: name, fn: h})
}

// Append assigns the next sequence number to o and queues it. Outcomes
// appended after Close are numbered but dropped.
func (s *Stream) Append(o domain.FundingOutcome) uint64 {
	s.mu.Lock()
	s.seq++
	o.Seq = s.seq
	seq := s.seq
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("outcome dropped after close", slog.Uint64("seq", seq), slog.String("symbol", o.Symbol))
		return seq
	}
	s.queue = append(s.queue, o)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return seq
}

// Pending returns the number of queued outcomes not yet delivered.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops accepting outcomes. Run delivers what is already queued and
// returns.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run delivers queued outcomes to every handler until Close is called and
// the queue is empty, or ctx is cancelled. No handler is started with a
// cancelled context: once ctx is done the outcomes not yet dispatched are
// flushed with a bounded background context instead.
func (s *Stream) Run(ctx context.Context) error {
	for {
		batch, closed := s.take()
		for i, o := range batch {
			if ctx.Err() != nil {
				s.flush(batch[i:])
				return ctx.Err()
			}
			s.dispatch(ctx, o)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			s.flush(nil)
			return ctx.Err()
		case <-s.wake:
		}
	}
}

func (s *Stream) take() ([]domain.FundingOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch, s.closed
}

// flush delivers pending and then whatever is still queued, in order.
func (s *Stream) flush(pending []domain.FundingOutcome) {
	rest, _ := s.take()
	batch := slices.Concat(pending, rest)
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	s.logger.Info("flushing outcomes on shutdown", slog.Int("count", len(batch)))
	for _, o := range batch {
		s.dispatch(ctx, o)
	}
}

func (s *Stream) dispatch(ctx context.Context, o domain.FundingOutcome) {
	for _, h := range s.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("outcome handler panicked",
						slog.String("handler", h.name),
						slog.Uint64("seq", o.Seq),
						slog.Any("panic", r),
					)
				}
			}()
			h.fn(ctx, o)
		}()
	}
}
