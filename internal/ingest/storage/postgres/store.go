package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/domain"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

const pgForeignKeyViolation = "23503"

// Store implements storage.Store on a PostgresPool.
type Store struct {
	pool   *PostgresPool
	logger *slog.Logger
}

// Open connects a PostgresPool built from cfg and wraps it as a Store.
func Open(ctx context.Context, cfg *PostgresConfig, logger *slog.Logger) (*Store, error) {
	pool := NewPostgresPool(cfg, logger)
	if err := pool.Connect(ctx); err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

// UpsertAggregator implements storage.Store.
func (s *Store) UpsertAggregator(ctx context.Context, name string) (uuid.UUID, bool, error) {
	const q = `
		INSERT INTO aggregators (aggregator_id, name, created_at)
		VALUES (gen_random_uuid(), $1, now())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING aggregator_id, (xmax = 0) AS inserted`

	var id uuid.UUID
	var created bool
	err := s.pool.Retry(ctx, func() error {
		return s.pool.QueryRow(ctx, q, name).Scan(&id, &created)
	})
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("upsert aggregator: %w", err)
	}
	return id, created, nil
}

// CreateDevice implements storage.Store.
func (s *Store) CreateDevice(ctx context.Context, aggregatorID uuid.UUID, name, source string) (domain.Device, error) {
	const q = `
		INSERT INTO devices (device_id, aggregator_id, name, source, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, now())
		RETURNING device_id, aggregator_id, name, source, created_at`

	var dev domain.Device
	err := s.pool.QueryRow(ctx, q, aggregatorID, name, source).Scan(
		&dev.DeviceID, &dev.AggregatorID, &dev.Name, &dev.Source, &dev.CreatedAt)
	if err != nil {
		if isErrorCode(err, pgForeignKeyViolation) {
			return domain.Device{}, storage.ErrAggregatorNotFound
		}
		return domain.Device{}, fmt.Errorf("create device: %w", err)
	}
	return dev, nil
}

// InsertSnapshot implements storage.Store. A re-delivered snapshot (same
// SnapshotID) is a no-op: the snapshot row insert is skipped via ON
// CONFLICT DO NOTHING, and metric rows are only inserted alongside a
// freshly-created snapshot row.
func (s *Store) InsertSnapshot(ctx context.Context, snap metric.Snapshot) error {
	var notFound error

	retryErr := s.pool.Retry(ctx, func() error {
		notFound = nil

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin snapshot tx: %w", err)
		}
		defer tx.Rollback(ctx)

		const insertSnapshot = `
			INSERT INTO snapshots (snapshot_id, device_id, collected_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (snapshot_id) DO NOTHING
			RETURNING snapshot_id`

		var inserted uuid.UUID
		err = tx.QueryRow(ctx, insertSnapshot, snap.SnapshotID, snap.DeviceID, snap.CollectedAt).Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// already persisted from an earlier delivery attempt.
			return tx.Commit(ctx)
		case err != nil:
			if isErrorCode(err, pgForeignKeyViolation) {
				notFound = storage.ErrDeviceNotFound
				return nil
			}
			return fmt.Errorf("insert snapshot: %w", err)
		}

		const insertMetric = `
			INSERT INTO metrics (snapshot_id, metric_name, metric_value, unit)
			VALUES ($1, $2, $3, $4)`

		batch := &pgx.Batch{}
		for _, m := range snap.Metrics {
			batch.Queue(insertMetric, snap.SnapshotID, m.Name(), m.Value(), m.Unit())
		}
		br := tx.SendBatch(ctx, batch)
		for range snap.Metrics {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert metric row: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("insert metric rows: %w", err)
		}

		return tx.Commit(ctx)
	})

	if notFound != nil {
		return notFound
	}
	return retryErr
}

// QueryMetrics implements storage.Store.
func (s *Store) QueryMetrics(ctx context.Context, q storage.MetricQuery) ([]storage.StoredMetric, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	const sql = `
		SELECT s.snapshot_id, d.device_id, d.source, s.collected_at, m.metric_name, m.metric_value, m.unit
		FROM metrics m
		JOIN snapshots s ON s.snapshot_id = m.snapshot_id
		JOIN devices d ON d.device_id = s.device_id
		WHERE ($1::uuid IS NULL OR d.device_id = $1)
		  AND ($2 = '' OR d.source = $2)
		  AND ($3::timestamptz IS NULL OR s.collected_at > $3)
		ORDER BY s.collected_at ASC
		LIMIT $4`

	var since interface{}
	if q.Since != nil {
		since = *q.Since
	}

	rows, err := s.pool.Query(ctx, sql, q.DeviceID, q.Source, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredMetric
	for rows.Next() {
		var m storage.StoredMetric
		if err := rows.Scan(&m.SnapshotID, &m.DeviceID, &m.Source, &m.CollectedAt, &m.Name, &m.Value, &m.Unit); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Health implements storage.Store.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Health(ctx)
}

// Close implements storage.Store.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.pool.Disconnect(ctx)
}

func isErrorCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
