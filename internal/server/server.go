// Package server exposes the funding engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deepak28290/hlhpythoracle/internal/domain"
	"github.com/deepak28290/hlhpythoracle/internal/server/handler"
	"github.com/deepak28290/hlhpythoracle/internal/server/middleware"
	"github.com/deepak28290/hlhpythoracle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // POST /api/updates per client per RateWindow; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Updates *handler.UpdateHandler
	Config  *handler.ConfigHandler
	Audit   *handler.AuditHandler // optional
	Metrics http.Handler          // optional
}

// Server is the headless HTTP + WebSocket API server of the funding engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)

	// Health and status (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Market state.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{symbol}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{symbol}/rate", handlers.Markets.GetRate)
	mux.HandleFunc("GET /api/markets/{symbol}/index", handlers.Markets.GetIndex)
	mux.HandleFunc("GET /api/markets/{symbol}/history", handlers.Markets.GetHistory)

	// Observation submission.
	var submit http.Handler = http.HandlerFunc(handlers.Updates.SubmitUpdates)
	if limiter != nil && cfg.RateLimit > 0 {
		submit = middleware.RateLimit(limiter, "updates", cfg.RateLimit, cfg.RateWindow, logger)(submit)
	}
	mux.Handle("POST /api/updates", auth(submit))

	// Engine config.
	mux.HandleFunc("GET /api/config", handlers.Config.GetConfig)
	mux.Handle("PUT /api/config", auth(http.HandlerFunc(handlers.Config.UpdateConfig)))

	if handlers.Audit != nil {
		mux.Handle("GET /api/audit", auth(http.HandlerFunc(handlers.Audit.ListAudit)))
	}

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
