// Package server exposes build history, statistics and sync triggers over
// a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/caevv/buildwatch/internal/analytics"
	"github.com/caevv/buildwatch/internal/query"
	"github.com/caevv/buildwatch/internal/registry"
	"github.com/caevv/buildwatch/internal/scheduler"
	"github.com/caevv/buildwatch/internal/store"
	"github.com/caevv/buildwatch/internal/syncer"
	"github.com/caevv/buildwatch/internal/telemetry"
)

// Builds answers catalog and build lookups.
type Builds interface {
	Jobs() []*registry.Job
	Job(id string) (*registry.Job, error)
	ListBuilds(ctx context.Context, jobID string, opts query.ListOptions) (*query.Page, error)
	GetBuild(ctx context.Context, jobID string, number int) (*store.Build, error)
	ConsoleLog(ctx context.Context, jobID string, number int) (string, error)
}

// Stats computes analytics.
type Stats interface {
	Overall(ctx context.Context, scope analytics.Scope) (*analytics.OverallStats, error)
	ByDimension(ctx context.Context, jobID string, scope analytics.Scope) ([]analytics.DimensionStats, error)
	Daily(ctx context.Context, scope analytics.Scope, days int) ([]analytics.DailyStats, error)
	DurationTrend(ctx context.Context, scope analytics.Scope, limit int) ([]analytics.DurationPoint, error)
	Status(ctx context.Context, jobID string) ([]analytics.DimensionStatus, error)
}

// Syncer triggers and reports sync runs.
type Syncer interface {
	StartBackfill(ctx context.Context, jobID string) (string, error)
	Refresh(ctx context.Context, jobID string) (*syncer.Result, error)
	State(jobID string) (syncer.State, error)
	States() []syncer.State
}

// Schedule reports scheduler timing for a job. It may be nil.
type Schedule interface {
	GetJobStats(jobID string) (*scheduler.JobStats, bool)
}

// Options configures a Server.
type Options struct {
	Addr     string
	Version  string
	Builds   Builds
	Stats    Stats
	Syncer   Syncer
	Schedule Schedule
}

// Server is the buildwatch HTTP API.
type Server struct {
	addr     string
	version  string
	builds   Builds
	stats    Stats
	syncer   Syncer
	schedule Schedule
	logger   *slog.Logger

	srv       *http.Server
	router    chi.Router
	startTime time.Time

	mu      sync.RWMutex
	started bool
}

// New creates a new Server instance
func New(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		addr:      opts.Addr,
		version:   opts.Version,
		builds:    opts.Builds,
		stats:     opts.Stats,
		syncer:    opts.Syncer,
		schedule:  opts.Schedule,
		logger:    logger,
		startTime: time.Now(),
		router:    chi.NewRouter(),
	}

	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/jobs", s.handleListJobs)
		r.Route("/jobs/{job}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Get("/builds", s.handleListBuilds)
			r.Get("/builds/{number}", s.handleGetBuild)
			r.Get("/builds/{number}/console", s.handleConsoleLog)
			r.Get("/stats/dimensions", s.handleDimensionStats)
			r.Get("/status", s.handleStatus)
			r.Post("/sync/backfill", s.handleBackfill)
			r.Post("/sync/refresh", s.handleRefresh)
		})

		r.Get("/stats", s.handleOverallStats)
		r.Get("/stats/daily", s.handleDailyStats)
		r.Get("/stats/duration", s.handleDurationTrend)

		r.Get("/sync", s.handleSyncStates)
	})
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Console logs and synchronous refreshes can be slow.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server", "reason", ctx.Err())
		return s.Stop(context.Background())
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during shutdown", "error", err)
		return fmt.Errorf("shutdown failed: %w", err)
	}

	s.started = false
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		level := slog.LevelDebug
		if wrapped.statusCode >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Uptime returns the server uptime as a string
func (s *Server) Uptime() string {
	return time.Since(s.startTime).Truncate(time.Second).String()
}
