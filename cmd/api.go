package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/marketplace/services/orders/config"
	"example.com/marketplace/services/orders/internal/api"
	"example.com/marketplace/services/orders/internal/cache"
	"example.com/marketplace/services/orders/internal/database"
	"example.com/marketplace/services/orders/internal/messaging"
	"example.com/marketplace/services/orders/internal/metrics"
	"example.com/marketplace/services/orders/internal/search"
	"example.com/marketplace/services/orders/internal/services"
	"example.com/marketplace/services/orders/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server handling order creation, transitions and reads`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	// Initialize the deferred delivery queue sender
	var bus messaging.ServiceBusClient
	busClient, err := messaging.NewClient(cfg.Azure, "orders-api")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize delivery queue, continuing with degraded delivery")
	} else {
		bus = busClient
		defer busClient.Close()
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()
	metricsCollector.SetHealth("database", true)
	metricsCollector.SetHealth("delivery_queue", bus != nil)

	// Initialize services
	orderService := services.NewOrderService(db, readOnlyDB, redisCache, elasticClient, bus, metricsCollector, tracer)

	// Initialize and start the server
	server := api.NewServer(cfg, orderService, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}
