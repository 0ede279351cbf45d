package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// Submitter accepts decoded price updates.
type Submitter interface {
	Submit(ctx context.Context, updates []domain.PriceUpdate) []domain.UpdateResult
}

// defaultBlock is how long a read waits on an empty stream when none is set.
const defaultBlock = time.Second

// IntakeConfig controls how the intake consumes its stream.
type IntakeConfig struct {
	Stream    string
	BatchSize int
	Block     time.Duration
	LockTTL   time.Duration
}

// Intake reads observations from a Redis stream and submits them in
// batches. Only the replica holding the "intake" lock consumes; the lock is
// held for half its TTL at a time and then re-acquired. No read blocks past
// the end of the lease.
type Intake struct {
	bus    domain.SignalBus
	locks  domain.LockManager
	submit Submitter
	cfg    IntakeConfig
	cursor string
	logger *slog.Logger
}

// NewIntake creates an Intake. locks may be nil for a single replica.
func NewIntake(bus domain.SignalBus, locks domain.LockManager, submit Submitter, cfg IntakeConfig, logger *slog.Logger) *Intake {
	if cfg.Stream == "" {
		cfg.Stream = domain.StreamObservations
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlock
	}
	return &Intake{
		bus:    bus,
		locks:  locks,
		submit: submit,
		cfg:    cfg,
		cursor: "$",
		logger: logger.With(slog.String("component", "intake")),
	}
}

// Run consumes the stream until ctx is cancelled.
func (in *Intake) Run(ctx context.Context) error {
	in.logger.Info("intake started",
		slog.String("stream", in.cfg.Stream),
		slog.Int("batch_size", in.cfg.BatchSize),
	)
	defer in.logger.Info("intake stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := in.lease(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, domain.ErrLockHeld) {
				in.logger.Warn("intake lease failed", slog.String("error", err.Error()))
			}
			if !sleep(ctx, in.retryDelay()) {
				return ctx.Err()
			}
		}
	}
}

// lease consumes while holding the intake lock.
func (in *Intake) lease(ctx context.Context) error {
	deadline := time.Now().Add(in.cfg.LockTTL / 2)
	if in.locks != nil {
		unlock, err := in.locks.Acquire(ctx, "intake", in.cfg.LockTTL)
		if err != nil {
			return err
		}
		defer unlock()
	}

	for {
		block := in.cfg.Block
		if in.locks != nil {
			block = min(block, time.Until(deadline))
			if block < time.Millisecond {
				return nil
			}
		}
		if _, err := in.poll(ctx, block); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Poll reads at most one batch, submits the decodable entries and advances
// the cursor past every entry read. It returns the number of updates
// submitted.
func (in *Intake) Poll(ctx context.Context) (int, error) {
	return in.poll(ctx, in.cfg.Block)
}

func (in *Intake) poll(ctx context.Context, block time.Duration) (int, error) {
	msgs, err := in.bus.StreamRead(ctx, in.cfg.Stream, in.cursor, in.cfg.BatchSize, block)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	updates := make([]domain.PriceUpdate, 0, len(msgs))
	for _, m := range msgs {
		in.cursor = m.ID
		if m.Payload == nil {
			in.logger.Warn("skipping empty observation", slog.String("id", m.ID))
			continue
		}
		u, err := DecodeObservation(m.Payload)
		if err != nil {
			in.logger.Warn("skipping malformed observation",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		updates = append(updates, u)
	}
	if len(updates) == 0 {
		return 0, nil
	}

	results := in.submit.Submit(ctx, updates)
	accepted := 0
	for _, r := range results {
		if r.OK() {
			accepted++
		}
	}
	in.logger.Debug("intake batch submitted",
		slog.Int("read", len(msgs)),
		slog.Int("submitted", len(updates)),
		slog.Int("accepted", accepted),
		slog.String("cursor", in.cursor),
	)
	return len(updates), nil
}

// Cursor returns the id of the last entry read.
func (in *Intake) Cursor() string { return in.cursor }

func (in *Intake) retryDelay() time.Duration {
	if d := in.cfg.LockTTL / 3; d > 0 {
		return d
	}
	return time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
