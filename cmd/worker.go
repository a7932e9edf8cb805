package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/marketplace/services/orders/config"
	"example.com/marketplace/services/orders/internal/cache"
	"example.com/marketplace/services/orders/internal/database"
	"example.com/marketplace/services/orders/internal/messaging"
	"example.com/marketplace/services/orders/internal/metrics"
	"example.com/marketplace/services/orders/internal/search"
	"example.com/marketplace/services/orders/internal/services"
	"example.com/marketplace/services/orders/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker to process delivery jobs from Azure Service Bus and reconcile seller counters`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client for the reporting index
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without reporting index")
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()
	metricsCollector.SetHealth("database", true)

	// Initialize the delivery queue client. The worker cannot run without it,
	// unlike the API which only degrades.
	busClient, err := messaging.NewClient(cfg.Azure, "orders-worker")
	if err != nil {
		return err
	}
	defer busClient.Close()

	// Initialize services
	orderService := services.NewOrderService(db, readOnlyDB, redisCache, elasticClient, busClient, metricsCollector, tracer)

	// Start the delivery job processor
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting delivery job processor")
		return busClient.ProcessMessages(ctx, orderService.ProcessDeliveryMessage)
	})

	// Start the counter reconciliation cron job as a fallback mechanism
	g.Go(func() error {
		log.Info().Msg("Starting counter reconciliation cron job as fallback mechanism")

		// Create a scheduler
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Add the reconciliation job to run every 5 minutes. Counters are
		// maintained transactionally, so this only repairs operational drift.
		_, err = scheduler.NewJob(
			gocron.DurationJob(5*time.Minute),
			gocron.NewTask(func() {
				log.Info().Msg("Running fallback reconciliation job to repair counter drift")
				if err := orderService.ReconcileCounters(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reconcile seller counters in fallback job")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Start the scheduler
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
