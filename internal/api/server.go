// Package api provides the HTTP binding for LabelMint.
// All engine operations are exposed as JSON endpoints under /v1.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/app/engine"
	"github.com/labelmint/labelmint/internal/health"
)

// Funder credits a project's budget.
type Funder interface {
	FundProject(ctx context.Context, projectID string, amount int64) error
}

// Options holds the server's optional collaborators.
type Options struct {
	Funder         Funder          // nil disables POST /v1/projects/{id}/fund
	Health         *health.Checker // nil reports a static ok
	Logger         *zap.Logger
	MetricsEnabled bool
	RequestTimeout time.Duration // default 30s
}

// Server is the LabelMint HTTP API server.
type Server struct {
	engine   *engine.Engine
	funder   Funder
	health   *health.Checker
	logger   *zap.Logger
	validate *validator.Validate
	metrics  bool
	timeout  time.Duration
}

// NewServer creates a new API server.
func NewServer(eng *engine.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		engine:   eng,
		funder:   opts.Funder,
		health:   opts.Health,
		logger:   opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  opts.MetricsEnabled,
		timeout:  opts.RequestTimeout,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Post("/expire", s.handleExpire)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Post("/assign", s.handleAssign)
				r.Post("/auto-assign", s.handleAutoAssign)
				r.Post("/reassign", s.handleReassign)
				r.Get("/consensus", s.handleConsensus)
				r.Get("/reviewers-needed", s.handleReviewersNeeded)

				r.Group(func(r chi.Router) {
					r.Use(requireWorker)
					r.Post("/start", s.handleStart)
					r.Post("/labels", s.handleLabel)
					r.Post("/honeypot-labels", s.handleHoneypotLabel)
				})
			})
		})

		r.Route("/batch", func(r chi.Router) {
			r.Post("/assign", s.handleBatchAssign)
			r.With(requireWorker).Post("/labels", s.handleBatchLabels)
		})

		r.Get("/stats/tasks", s.handleTaskStats)

		r.Post("/workers", s.handleRegisterWorker)
		r.Get("/workers/{id}/metrics", s.handleWorkerMetrics)

		r.Get("/projects/{id}/stats", s.handleProjectStats)
		r.Post("/projects/{id}/fund", s.handleFund)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// accessLog logs one line per request at debug level, errors at warn.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := s.logger.Debug
		if ww.Status() >= http.StatusInternalServerError {
			level = s.logger.Warn
		}
		level("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
