// Package api serves the collector's admin HTTP surface: health, version,
// self-metrics, run status and read access to the persisted documents.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Eco-Stack/eco-stack-prometheus/internal/collector"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/middleware"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/store"
	"github.com/Eco-Stack/eco-stack-prometheus/internal/version"
)

const readyTimeout = 2 * time.Second

// RunSource reports the most recent collection run
type RunSource interface {
	Latest() (collector.RunSummary, bool)
}

// ManualTrigger starts a collection run on demand
type ManualTrigger interface {
	TriggerManual() bool
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the server to the collector components
type Options struct {
	Store               *store.Store
	Ready               Pinger // defaults to Store
	Runs                RunSource
	Trigger             ManualTrigger
	ManualRunsPerMinute int
}

// Server represents the admin API server
type Server struct {
	logger    *zap.Logger
	router    chi.Router
	store     *store.Store
	ready     Pinger
	runs      RunSource
	trigger   ManualTrigger
	errors    *middleware.ErrorResponder
	manualRPM int
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, opts Options) *Server {
	s := &Server{
		logger:    logger,
		router:    chi.NewRouter(),
		store:     opts.Store,
		ready:     opts.Ready,
		runs:      opts.Runs,
		trigger:   opts.Trigger,
		errors:    middleware.NewErrorResponder(logger),
		manualRPM: opts.ManualRunsPerMinute,
	}
	if s.ready == nil && s.store != nil {
		s.ready = s.store
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.RequestIDResponseMiddleware)
	s.router.Use(middleware.PrometheusMiddleware)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs/latest", s.handleLatestRun)
		r.With(middleware.RateLimit(s.logger, s.manualRPM)).Post("/runs", s.handleTriggerRun)

		if s.store != nil {
			r.Get("/instances/{id}", getDocument(s, s.store.Instances))
			r.Get("/projects/{id}", getDocument(s, s.store.Projects))
			r.Get("/hypervisors/{id}", getDocument(s, s.store.Hypervisors))
			r.Get("/records/{id}", getDocument(s, s.store.Metrics))
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
