package api

import (
	"context"
	"net/http"
	"time"

	"example.com/backstage/services/transactions/config"
	"example.com/backstage/services/transactions/internal/api/handlers"
	"example.com/backstage/services/transactions/internal/api/middleware"
	"example.com/backstage/services/transactions/internal/metrics"
	"example.com/backstage/services/transactions/internal/services"
	"example.com/backstage/services/transactions/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config       config.Config
	router       *gin.Engine
	httpServer   *http.Server
	transactions services.TransactionService
	webhooks     services.WebhookService
	metrics      *metrics.Metrics
	tracer       tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	transactions services.TransactionService,
	webhooks services.WebhookService,
	metricsCollector *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:       cfg,
		transactions: transactions,
		webhooks:     webhooks,
		metrics:      metricsCollector,
		tracer:       tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	if app := s.tracer.Application(); app != nil {
		router.Use(nrgin.Middleware(app))
	}

	transactionHandler := handlers.NewTransactionHandler(s.transactions, s.webhooks)
	transactionHandler.RegisterRoutes(router)

	webhookHandler := handlers.NewWebhookHandler(s.webhooks)
	webhookHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics)
	metricsHandler.RegisterRoutes(router)

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
