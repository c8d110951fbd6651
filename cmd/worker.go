package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"example.com/backstage/services/transactions/config"
	"example.com/backstage/services/transactions/internal/cache"
	"example.com/backstage/services/transactions/internal/database"
	"example.com/backstage/services/transactions/internal/messaging"
	"example.com/backstage/services/transactions/internal/metrics"
	"example.com/backstage/services/transactions/internal/repositories"
	"example.com/backstage/services/transactions/internal/search"
	"example.com/backstage/services/transactions/internal/services"
	"example.com/backstage/services/transactions/internal/tracing"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to process webhook notifications from Azure Service Bus`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without audit search")
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	metricsCollector := metrics.NewMetrics()

	transactionRepo := repositories.NewTransactionRepository(db, readOnlyDB)
	webhookRepo := repositories.NewWebhookEventRepository(db, readOnlyDB)

	transactionService := services.NewTransactionService(transactionRepo, redisCache, metricsCollector)
	webhookService := services.NewWebhookService(webhookRepo, transactionService, elasticClient, metricsCollector)

	serviceBus, err := messaging.NewServiceBusClient(cfg.Azure)
	if err != nil {
		return err
	}
	defer serviceBus.Close()

	// Consume processor notifications from the queue
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting Azure Service Bus processor")
		return serviceBus.ProcessMessages(ctx, func(ctx context.Context, message *azservicebus.ReceivedMessage) error {
			txn := tracer.StartTransaction("process-webhook-message")
			defer tracer.EndTransaction(txn)
			tracer.AddAttribute(txn, "message_id", message.MessageID)

			if err := webhookService.ProcessMessage(ctx, message); err != nil {
				tracer.NoticeError(txn, err)
				return err
			}
			return nil
		})
	})

	// Periodically refresh the statistics snapshot and per-status gauges
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(time.Minute),
			gocron.NewTask(func() {
				stats, err := transactionService.Statistics(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Failed to refresh transaction statistics")
					return
				}
				metricsCollector.SetGauge("transactions_active", stats.Total)
				for status, count := range stats.ByStatus {
					metricsCollector.SetGauge("transactions_"+strings.ToLower(string(status)), count)
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
