// Command ingestord runs the telemetry pipeline's ingestion server: the
// write path for aggregator registration and snapshot uploads, and the
// dashboard read API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/config"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/httpapi"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage/postgres"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage/sqlite"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ingestord",
	Short: "Telemetry pipeline ingestion server",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "ingestord.toml", "path to the TOML configuration file")
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

	store, err := openStore(ctx, cfg.Ingest, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	router := httpapi.NewRouter(store, logger, httpapi.Config{
		APIKey:            cfg.Ingest.APIKey,
		RequireKeyOnReads: cfg.Ingest.RequireKeyOnReads,
	})
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Ingest.ListenAddr,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ingestion server starting", "addr", cfg.Ingest.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Ingest.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	logger.Info("ingestion server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.IngestConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "postgres":
		pgCfg, err := postgres.ParseDSN(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		return postgres.Open(ctx, pgCfg, logger)
	case "sqlite":
		return sqlite.Open(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
