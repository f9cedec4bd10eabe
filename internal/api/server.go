// Package api exposes scans, alerts and the scheduler over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/yairfalse/driftwatch/internal/daemon"
	"github.com/yairfalse/driftwatch/policy"
	"github.com/yairfalse/driftwatch/storage"
	"github.com/yairfalse/driftwatch/telemetry"
	"github.com/yairfalse/driftwatch/types"
)

// Scheduler is the scan control surface.
type Scheduler interface {
	Trigger(ctx context.Context) (*daemon.Handle, error)
	Pause()
	Resume()
	Paused() bool
	Interval() time.Duration
	Running() (types.ScanRun, bool)
	Last() (types.ScanRun, bool)
}

// Alerts reads alerts and applies human actions.
type Alerts interface {
	Do(ctx context.Context, id string, action types.Action, actor, note string) (types.Alert, error)
	Get(ctx context.Context, id string) (types.Alert, error)
	List(ctx context.Context, filter types.AlertFilter) ([]types.Alert, error)
}

// Rules exposes the active severity rule table.
type Rules interface {
	Table() *policy.Table
}

// Dependencies are the services the API serves.
type Dependencies struct {
	Scheduler Scheduler
	Runs      storage.ScanRunReader
	Alerts    Alerts
	Rules     Rules        // optional
	Metrics   http.Handler // optional, served at /metrics
}

// Config configures the HTTP server.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// WaitTimeout bounds POST /scans?wait=true.
	WaitTimeout  time.Duration
	Dependencies Dependencies
}

// Server is the HTTP API.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	deps        Dependencies
	validate    *validator.Validate
	waitTimeout time.Duration
	shutdown    time.Duration
	logger      *telemetry.Logger
}

// NewServer builds the router.
func NewServer(config Config) *Server {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.WaitTimeout == 0 {
		config.WaitTimeout = 5 * time.Minute
	}

	s := &Server{
		deps:        config.Dependencies,
		validate:    validator.New(),
		waitTimeout: config.WaitTimeout,
		shutdown:    config.ShutdownTimeout,
		logger:      telemetry.NewLogger("api"),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(RequestLogger(&s.logger.Logger))
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.handleTriggerScan)
			r.Get("/", s.handleListScans)
			r.Get("/latest", s.handleLatestScan)
			r.Get("/{id}", s.handleGetScan)
		})
		r.Get("/scheduler", s.handleSchedulerStatus)
		r.Post("/scheduler/pause", s.handlePause)
		r.Post("/scheduler/resume", s.handleResume)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleListAlerts)
			r.Get("/{id}", s.handleGetAlert)
			r.Post("/{id}/{action}", s.handleAlertAction)
		})
		r.Get("/rules", s.handleRules)
	})

	s.router = router
	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("starting api server")
		errs <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info().Msg("api shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("graceful shutdown failed")
			return s.server.Close()
		}
		return nil
	}
}
