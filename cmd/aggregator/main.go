// Command aggregator runs the collector-side process: it registers itself
// and its enabled collectors with the ingestion server, then samples each
// collector on its own interval and feeds snapshots into the durable
// upload queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/collector/local"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/collector/transport"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/collector/wikipedia"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/config"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/logging"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/orchestrator"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/queue"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/queue/redisbroker"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/registration"
	"github.com/vitaliisemenov/telemetry-pipeline/pkg/apiclient"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "aggregator",
	Short: "Telemetry pipeline collector aggregator",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "aggregator.toml", "path to the TOML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.UploadQueue.RedisAddr,
		Password: cfg.UploadQueue.RedisPassword,
		DB:       cfg.UploadQueue.RedisDB,
	})
	defer redisClient.Close()

	broker := redisbroker.New(redisClient, logger)

	api := apiclient.New(cfg.Aggregator.IngestBaseURL, cfg.Aggregator.APIKey, cfg.Aggregator.RequestTimeout)
	uploader := apiclient.NewUploader(api, "/api/metrics")
	regClient := registration.New(api)

	q := queue.New(broker, uploader, queue.Config{
		BackoffBase:       cfg.UploadQueue.BackoffBase,
		BackoffMultiplier: cfg.UploadQueue.BackoffMultiplier,
		MaxRetryAttempts:  cfg.UploadQueue.MaxRetryAttempts,
		WorkerSleep:       cfg.UploadQueue.WorkerSleep,
		DrainBatchSize:    cfg.UploadQueue.DrainBatchSize,
		RequestTimeout:    cfg.UploadQueue.RequestTimeout,
	}, logger)

	specs, err := buildCollectorSpecs(cfg)
	if err != nil {
		return fmt.Errorf("build collectors: %w", err)
	}

	o := orchestrator.New(orchestrator.Config{
		AggregatorName:    cfg.Aggregator.Name,
		HandshakeInterval: cfg.Aggregator.HandshakeInterval,
		HandshakeTimeout:  cfg.Aggregator.HandshakeTimeout,
		Collectors:        specs,
	}, regClient, q, logger)

	if err := o.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	logger.Info("aggregator running", "name", cfg.Aggregator.Name, "collectors", len(specs))
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Aggregator.RequestTimeout)
	defer shutdownCancel()
	o.Stop(shutdownCtx)

	logger.Info("aggregator stopped")
	return nil
}

func buildCollectorSpecs(cfg *config.Config) ([]orchestrator.CollectorSpec, error) {
	var specs []orchestrator.CollectorSpec

	if cfg.Collectors.LocalEnabled {
		specs = append(specs, orchestrator.CollectorSpec{
			Collector: local.New(cfg.Collectors.MetricPrecision),
			Interval:  cfg.LocalCollector.Interval,
		})
	}

	if cfg.Collectors.WikipediaEnabled {
		c, err := wikipedia.New(cfg.WikipediaCollector.CollectionWindow, cfg.WikipediaCollector.RequestsPerSecond, cfg.WikipediaCollector.UserAgent)
		if err != nil {
			return nil, fmt.Errorf("wikipedia collector: %w", err)
		}
		specs = append(specs, orchestrator.CollectorSpec{
			Collector: c,
			Interval:  cfg.WikipediaCollector.Interval,
		})
	}

	if cfg.Collectors.TransportEnabled && cfg.TransportCollector.Enabled {
		specs = append(specs, orchestrator.CollectorSpec{
			Collector: transport.New(cfg.TransportCollector.VehiclePositionsURL, cfg.TransportCollector.TripUpdatesURL),
			Interval:  cfg.TransportCollector.Interval,
		})
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no collectors enabled")
	}

	return specs, nil
}
