// Package api provides the HTTP surface of the scoring service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/predictor"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, svc *predictor.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, alertEngine *alert.Engine, minShared int64, version string) *Server {
	handler := NewHandler(svc, repo, cache, bus, alertEngine, minShared, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Transaction scoring
		r.Post("/predict", handler.Predict)
		r.Post("/predict/batch", handler.PredictBatch)

		// Result retrieval
		r.Get("/predictions/{id}", handler.GetPrediction)
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Entity graph
		r.Get("/clusters", handler.GetClusters)
		r.Get("/graph", handler.GetGraph)

		// Alert rule management
		r.Get("/alert-rules", handler.ListAlertRules)
		r.Get("/alert-rules/{id}", handler.GetAlertRule)
		r.Post("/alert-rules", handler.CreateAlertRule)
		r.Delete("/alert-rules/{id}", handler.DeleteAlertRule)
		r.Post("/alert-rules/reload", handler.ReloadAlertRules)

		// Raised alerts
		r.Get("/alerts", handler.ListAlerts)
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
