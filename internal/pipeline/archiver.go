// Package pipeline runs the background jobs of a worker: observation intake
// and funding history archival.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
)

// HistoryPruner deletes archived funding history.
type HistoryPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves funding history older than the retention window from the
// database to S3 cold storage. Rows are deleted only after the upload
// succeeded.
type Archiver struct {
	blobArchiver  domain.Archiver
	history       HistoryPruner
	locks         domain.LockManager
	lockTTL       time.Duration
	retentionDays int
	clock         func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. locks may be nil for a single replica.
func NewArchiver(
	blobArchiver domain.Archiver,
	history HistoryPruner,
	locks domain.LockManager,
	lockTTL time.Duration,
	retentionDays int,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		history:       history,
		locks:         locks,
		lockTTL:       lockTTL,
		retentionDays: retentionDays,
		clock:         time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run under the "archive" lock. A run that
// finds the lock held by another replica is skipped.
func (a *Archiver) Run(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "archive", a.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Debug("archive lock held elsewhere, skipping run")
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.clock().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveFundingHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving funding history before %v: %w", cutoff, err)
	}
	if archived == 0 {
		a.logger.Info("archive run complete, nothing to archive")
		return nil
	}

	deleted, err := a.history.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning funding history before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("archived", archived),
		slog.Int64("deleted", deleted),
	)
	return nil
}

// RunLoop runs the archiver every interval until the context is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	a.logger.Info("archiver started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
