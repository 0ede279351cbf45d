// Package app provides the top-level application lifecycle management for the
// funding daemon. It wires together the optional backends (Postgres, Redis,
// S3, notifications), builds the funding engine and its outcome stream, and
// starts the goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deepak28290/hlhpythoracle/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	base    *slog.Logger
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		base:   logger,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the engine,
// selects the operating mode, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Int("markets", len(a.cfg.Markets)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.base)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	mode := strings.ToLower(a.cfg.Mode)
	if err := deps.Notifier.NotifyAll(ctx, "fundingd started",
		fmt.Sprintf("mode %s, %d markets", mode, len(a.cfg.Markets))); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}

	switch mode {
	case "worker":
		return a.WorkerMode(ctx, deps, c)
	case "server":
		return a.ServerMode(ctx, deps, c)
	case "full":
		return a.FullMode(ctx, deps, c)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
