package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/agrosolutions/services/alerts/config"
	"example.com/agrosolutions/services/alerts/internal/api/handlers"
	"example.com/agrosolutions/services/alerts/internal/api/middleware"
	"example.com/agrosolutions/services/alerts/internal/metrics"
	"example.com/agrosolutions/services/alerts/internal/repositories"
	"example.com/agrosolutions/services/alerts/internal/search"
	"example.com/agrosolutions/services/alerts/internal/tracing"
)

// Server is the operator-facing HTTP API: recent alerts, audit search and a
// metrics snapshot. It never sits on the telemetry hot path.
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server
	repo       *repositories.AlertRepository
	elastic    *search.ElasticClient
	metrics    *metrics.Metrics
	tracer     tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, repo *repositories.AlertRepository, elastic *search.ElasticClient, metricsCollector *metrics.Metrics, tracer tracing.Tracer) *Server {
	server := &Server{
		config:  cfg,
		repo:    repo,
		elastic: elastic,
		metrics: metricsCollector,
		tracer:  tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Logger(), gin.Recovery())

	alertHandler := handlers.NewAlertHandler(s.repo, s.elastic, s.tracer)
	alertHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
