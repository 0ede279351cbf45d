package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/feed"
	"github.com/deepak28290/hlhpythoracle/internal/funding"
	"github.com/deepak28290/hlhpythoracle/internal/metrics"
	"github.com/deepak28290/hlhpythoracle/internal/outcome"
	"github.com/deepak28290/hlhpythoracle/internal/pipeline"
	"github.com/deepak28290/hlhpythoracle/internal/server"
	"github.com/deepak28290/hlhpythoracle/internal/server/handler"
	"github.com/deepak28290/hlhpythoracle/internal/server/ws"
	"github.com/deepak28290/hlhpythoracle/internal/service"
)

const (
	// shutdownTimeout bounds the graceful HTTP shutdown.
	shutdownTimeout = 5 * time.Second
	// drainTimeout bounds delivery of queued outcomes once every producer
	// has stopped.
	drainTimeout = 10 * time.Second
)

// core is the engine and its outcome pipeline. Every mode runs one.
type core struct {
	stream    *outcome.Stream
	service   *service.FundingService
	registry  *prometheus.Registry
	startedAt time.Time
}

// buildCore binds the configured markets, builds the engine with the outcome
// stream as its sink, and restores persisted market state.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	bindings := make([]funding.Binding, 0, len(a.cfg.Markets))
	for _, m := range a.cfg.Markets {
		id, err := funding.ParseFeedID(m.FeedID)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", m.Symbol, err)
		}
		bindings = append(bindings, funding.Binding{Symbol: m.Symbol, FeedID: id})
	}
	reg, err := funding.NewRegistry(bindings)
	if err != nil {
		return nil, fmt.Errorf("feed registry: %w", err)
	}

	stream := outcome.NewStream(a.base)
	params := domain.EngineParams{
		MinUpdateInterval: a.cfg.Engine.MinUpdateInterval.Duration,
		MaxFundingRate:    a.cfg.Engine.MaxFundingRate,
	}
	startedAt := time.Now().UTC()
	engine, err := funding.NewEngine(reg, params, startedAt,
		funding.WithSink(stream),
		funding.WithLogger(a.base),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(promReg)
	recorder.RegisterQueueDepth(stream.Pending)

	fd := service.FundingDeps{
		Engine:   engine,
		States:   deps.StateStore,
		History:  deps.HistoryStore,
		Audit:    deps.AuditStore,
		Bus:      deps.SignalBus,
		Notifier: deps.Notifier,
		Metrics:  recorder,
	}
	if deps.Signer != nil {
		fd.Signer = deps.Signer
	}
	svc := service.NewFundingService(fd, a.base)
	stream.Subscribe("funding_service", svc.HandleOutcome)

	if _, err := svc.Restore(ctx); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "funding engine ready",
		slog.Any("symbols", reg.Symbols()),
		slog.Duration("min_update_interval", params.MinUpdateInterval),
		slog.Int64("max_funding_rate", params.MaxFundingRate),
	)

	return &core{
		stream:    stream,
		service:   svc,
		registry:  promReg,
		startedAt: startedAt,
	}, nil
}

// WorkerMode consumes observations from the intake stream and archives old
// funding history.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "entering worker mode")

	return a.supervise(ctx, c, func(ctx context.Context, g *errgroup.Group) {
		a.startPipeline(ctx, g, deps, c)
	})
}

// ServerMode serves the HTTP API and WebSocket feed. Observations arrive
// through POST /api/updates.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "entering server mode")

	return a.supervise(ctx, c, func(ctx context.Context, g *errgroup.Group) {
		if a.cfg.Server.Enabled {
			a.startHTTPServer(ctx, g, deps, c)
		}
	})
}

// FullMode runs the worker pipeline and the HTTP server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, c *core) error {
	a.logger.InfoContext(ctx, "entering full mode")

	return a.supervise(ctx, c, func(ctx context.Context, g *errgroup.Group) {
		a.startPipeline(ctx, g, deps, c)
		if a.cfg.Server.Enabled {
			a.startHTTPServer(ctx, g, deps, c)
		}
	})
}

// supervise runs the producers added by start until ctx is cancelled or one
// of them fails. The outcome stream is closed only after every producer has
// returned, so an outcome committed by an in-flight request or intake batch
// during shutdown is still delivered. Delivery runs on a context detached from
// ctx and is cancelled only if the drain exceeds drainTimeout.
func (a *App) supervise(ctx context.Context, c *core, start func(ctx context.Context, g *errgroup.Group)) error {
	streamCtx, cancelStream := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelStream()
	done := make(chan error, 1)
	go func() { done <- c.stream.Run(streamCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	start(gctx, g)
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	err := g.Wait()

	c.stream.Close()
	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		a.logger.Warn("outcome stream drain timed out", slog.Int("pending", c.stream.Pending()))
		cancelStream()
		<-done
	}
	a.logger.Info("outcome stream drained")
	return err
}

// startPipeline adds the intake and archive jobs to the group. A job whose
// backends are not configured is left out.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	var intake pipeline.Job
	if a.cfg.Intake.Enabled && deps.SignalBus != nil {
		intake = feed.NewIntake(deps.SignalBus, deps.LockManager, c.service, feed.IntakeConfig{
			Stream:    a.cfg.Intake.Stream,
			BatchSize: a.cfg.Intake.BatchSize,
			Block:     a.cfg.Intake.Block.Duration,
			LockTTL:   a.cfg.Intake.LockTTL.Duration,
		}, a.base)
	}

	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled && deps.Archiver != nil && deps.HistoryStore != nil {
		archiver = pipeline.NewArchiver(
			deps.Archiver,
			deps.HistoryStore,
			deps.LockManager,
			a.cfg.Archive.LockTTL.Duration,
			a.cfg.Archive.RetentionDays,
			a.base,
		)
	}

	if intake == nil && archiver == nil {
		a.logger.WarnContext(ctx, "pipeline: no jobs configured")
		return
	}

	orch := pipeline.NewOrchestrator(intake, archiver, a.cfg.Archive.Interval.Duration, a.base)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// startHTTPServer adds the HTTP server, its shutdown watcher and the
// WebSocket hub to the group. The hub is only started when Redis is wired.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.base, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: c.startedAt,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	info := handler.StatusInfo{Mode: a.cfg.Mode, StartedAt: c.startedAt}
	if deps.Signer != nil {
		info.Signer = deps.Signer.Address().Hex()
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.base),
		Status:  handler.NewStatusHandler(info, c.service, c.stream.Pending),
		Markets: handler.NewMarketHandler(c.service, a.base),
		Updates: handler.NewUpdateHandler(c.service, a.base),
		Config:  handler.NewConfigHandler(c.service, a.base),
		Audit:   handler.NewAuditHandler(deps.AuditStore, a.base),
		Metrics: promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.base)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
