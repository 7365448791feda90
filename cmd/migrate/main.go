// Command migrate applies the ingestion server's goose migrations against
// a Postgres database.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage/postgres"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("TELEMETRY_POSTGRES_DSN"), "Postgres connection string")
	dir := flag.String("dir", "migrations", "directory containing goose migration files")
	status := flag.Bool("status", false, "print migration status instead of applying")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "missing -dsn (or TELEMETRY_POSTGRES_DSN)")
		os.Exit(1)
	}

	var err error
	if *status {
		err = postgres.MigrationStatus(*dsn, *dir, logger)
	} else {
		err = postgres.Migrate(*dsn, *dir, logger)
	}
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}
