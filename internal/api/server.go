// Package api exposes the claim scoring pipeline over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/claimguard/internal/assess"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// Options holds the collaborators of the API server.
type Options struct {
	Service   *assess.Service
	Repo      domain.ClaimRepository
	Cache     domain.Cache
	Bus       domain.EventBus
	Metrics   *metrics.Metrics
	RateLimit domain.RateLimitConfig
	Version   string
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, opts Options) *Server {
	handler := NewHandler(opts.Service, opts.Repo, opts.Cache, opts.Bus, opts.Version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for the dashboard
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression
	if opts.Metrics != nil {
		router.Use(MetricsMiddleware(opts.Metrics))
	}

	// Health and metrics endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics.Handler())
	}

	// Claim API
	router.Group(func(r chi.Router) {
		if opts.RateLimit.Enabled {
			r.Use(NewRateLimiter(opts.RateLimit).Middleware)
		}

		// Scoring
		r.Post("/assess", handler.Assess)

		// Claims
		r.Post("/claims", handler.SubmitClaim)
		r.Post("/claims/form", handler.SubmitClaimForm)
		r.Get("/claims", handler.ListClaims)
		r.Get("/claims/{id}", handler.GetClaim)
		r.Post("/claims/{id}/analyze", handler.AnalyzeClaim)

		// Dashboard
		r.Get("/dashboard/stats", handler.DashboardStats)
		r.Get("/schema", handler.Schema)

		// Alert policy
		r.Get("/alert/policy", handler.GetAlertPolicy)
		r.Put("/alert/policy", handler.UpdateAlertPolicy)
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
