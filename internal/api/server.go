package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/open-leads/talon/internal/domain"
	"github.com/open-leads/talon/internal/metrics"
	"github.com/open-leads/talon/internal/rules"
	"github.com/open-leads/talon/internal/triage"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, snapshots *triage.SnapshotStore, processor *triage.Processor, m *metrics.Metrics, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, snapshots, processor, m, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if m != nil {
		router.Handle("/metrics", m.Handler())
	}

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Lead intake and retrieval
		r.Post("/leads", handler.CreateLead)
		r.Get("/leads/{id}", handler.GetLead)
		r.Post("/leads/{id}/evaluate", handler.EvaluateLead)

		// Evaluation retrieval
		r.Get("/evaluations/{id}", handler.GetEvaluation)

		// Scoring configuration
		r.Get("/scoring/config", handler.GetScoringConfig)
		r.Put("/scoring/config", handler.PutScoringConfig)

		// Scoring rule management
		r.Get("/scoring/rules", handler.ListScoringRules)
		r.Get("/scoring/rules/{id}", handler.GetScoringRule)
		r.Post("/scoring/rules", handler.CreateScoringRule)

		// Routing rule management
		r.Get("/routing/rules", handler.ListRoutingRules)
		r.Post("/routing/rules", handler.CreateRoutingRule)

		// Hot reload
		r.Post("/rules/reload", handler.ReloadRules)

		// Pool and owner management
		r.Get("/pools", handler.ListPools)
		r.Post("/pools", handler.CreatePool)
		r.Get("/pools/{id}/owners", handler.ListOwners)
		r.Post("/pools/{id}/owners", handler.CreateOwner)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
