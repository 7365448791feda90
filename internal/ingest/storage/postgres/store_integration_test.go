//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage/postgres"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

func newTestStore(t *testing.T) (*postgres.Store, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("telemetry_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, postgres.Migrate(dsn, "../../../../migrations", nil))

	cfg, err := postgres.ParseDSN(dsn)
	require.NoError(t, err)

	store, err := postgres.Open(ctx, cfg, nil)
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		_ = container.Terminate(ctx)
	}
	return store, cleanup
}

func TestStore_InsertSnapshot_IsIdempotentAgainstRealPostgres(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	ctx := context.Background()
	aggregatorID, created, err := store.UpsertAggregator(ctx, "host-int-1")
	require.NoError(t, err)
	require.True(t, created)

	dev, err := store.CreateDevice(ctx, aggregatorID, "local", "local")
	require.NoError(t, err)

	entry, err := metric.NewMetricEntry("cpu_percent", 12.5, "percent")
	require.NoError(t, err)
	snap := metric.Snapshot{
		SnapshotID:  uuid.New(),
		DeviceID:    dev.DeviceID,
		CollectedAt: time.Now().UTC(),
		Metrics:     []metric.MetricEntry{entry},
	}

	require.NoError(t, store.InsertSnapshot(ctx, snap))
	require.NoError(t, store.InsertSnapshot(ctx, snap))

	results, err := store.QueryMetrics(ctx, storage.MetricQuery{DeviceID: &dev.DeviceID, Limit: 100})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestStore_CreateDevice_UnknownAggregatorAgainstRealPostgres(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	_, err := store.CreateDevice(context.Background(), uuid.New(), "local", "local")
	require.ErrorIs(t, err, storage.ErrAggregatorNotFound)
}
