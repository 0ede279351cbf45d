package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is a long-running background loop.
type Job interface {
	Run(ctx context.Context) error
}

// Orchestrator manages the worker goroutines: observation intake and
// cold-storage archival. Either may be nil.
type Orchestrator struct {
	intake          Job
	archiver        *Archiver
	archiveInterval time.Duration
	logger          *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(intake Job, archiver *Archiver, archiveInterval time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		intake:          intake,
		archiver:        archiver,
		archiveInterval: archiveInterval,
		logger:          logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts every configured job under an errgroup. If any job returns a
// non-context error, the errgroup cancels the shared context and Run returns
// that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("intake", o.intake != nil),
		slog.Bool("archive", o.archiver != nil),
		slog.Duration("archive_interval", o.archiveInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.intake != nil {
		g.Go(func() error {
			err := o.intake.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("intake: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx, o.archiveInterval)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
