package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salonkit/campaignd/internal/analytics"
	"github.com/salonkit/campaignd/internal/audience"
	"github.com/salonkit/campaignd/internal/campaign"
	"github.com/salonkit/campaignd/internal/config"
	"github.com/salonkit/campaignd/internal/metrics"
	"github.com/salonkit/campaignd/internal/orchestrator"
	"github.com/salonkit/campaignd/internal/queue"
)

// QueueStats is the read-only view of the task store the health endpoint
// reports.
type QueueStats interface {
	Stats(ctx context.Context) (*queue.Stats, error)
}

// Server is the HTTP API server
type Server struct {
	router       *chi.Mux
	httpServer   *http.Server
	service      *campaign.Service
	orchestrator *orchestrator.Orchestrator
	resolver     *audience.Resolver
	aggregator   *analytics.Aggregator
	tasks        QueueStats
	metrics      *metrics.Metrics
	config       *config.ServerConfig
	logger       *slog.Logger
	startTime    time.Time
}

// NewServer creates a new API server
func NewServer(
	service *campaign.Service,
	orch *orchestrator.Orchestrator,
	resolver *audience.Resolver,
	aggregator *analytics.Aggregator,
	tasks QueueStats,
	m *metrics.Metrics,
	cfg *config.ServerConfig,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		service:      service,
		orchestrator: orch,
		resolver:     resolver,
		aggregator:   aggregator,
		tasks:        tasks,
		metrics:      m,
		config:       cfg,
		logger:       logger,
		startTime:    time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check and metrics (no actor context required)
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// API v1 routes (actor context required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(metrics.HTTPMiddleware)
		r.Use(s.actorMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleListCampaigns)
			r.Post("/", s.handleCreateCampaign)
			r.Get("/stats", s.handleCampaignStats)
			r.Post("/validate", s.handleValidate)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCampaign)
				r.Put("/", s.handleUpdateCampaign)
				r.Delete("/", s.handleDeleteCampaign)
				r.Post("/duplicate", s.handleDuplicateCampaign)
				r.Post("/send", s.handleSendCampaign)
				r.Post("/test", s.handleTestCampaign)
				r.Post("/schedule", s.handleScheduleCampaign)
				r.Post("/pause", s.handlePauseCampaign)
				r.Get("/analytics", s.handleCampaignAnalytics)
				r.Post("/events", s.handleRecordEvent)
			})
		})

		r.Post("/audience/preview", s.handleAudiencePreview)

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleSaveTemplate)
			r.Get("/{id}", s.handleGetTemplate)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
