package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/transactions/config"
	"example.com/backstage/services/transactions/internal/api"
	"example.com/backstage/services/transactions/internal/cache"
	"example.com/backstage/services/transactions/internal/database"
	"example.com/backstage/services/transactions/internal/metrics"
	"example.com/backstage/services/transactions/internal/repositories"
	"example.com/backstage/services/transactions/internal/search"
	"example.com/backstage/services/transactions/internal/services"
	"example.com/backstage/services/transactions/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server handling transaction and webhook requests`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without audit search")
	}

	metricsCollector := metrics.NewMetrics()
	metricsCollector.SetHealth("database", true)

	transactionRepo := repositories.NewTransactionRepository(db, readOnlyDB)
	webhookRepo := repositories.NewWebhookEventRepository(db, readOnlyDB)

	transactionService := services.NewTransactionService(transactionRepo, redisCache, metricsCollector)
	webhookService := services.NewWebhookService(webhookRepo, transactionService, elasticClient, metricsCollector)

	server := api.NewServer(cfg, transactionService, webhookService, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
