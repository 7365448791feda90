// Package sqlite implements storage.Store over an embedded SQLite file,
// for single-node deployments that don't want a Postgres dependency.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/domain"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

const schema = `
CREATE TABLE IF NOT EXISTS aggregators (
    aggregator_id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
    device_id TEXT PRIMARY KEY,
    aggregator_id TEXT NOT NULL REFERENCES aggregators(aggregator_id),
    name TEXT NOT NULL,
    source TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE (aggregator_id, name)
);

CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL REFERENCES devices(device_id),
    collected_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_device_collected ON snapshots(device_id, collected_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_collected_at ON snapshots(collected_at);

CREATE TABLE IF NOT EXISTS metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id TEXT NOT NULL REFERENCES snapshots(snapshot_id),
    metric_name TEXT NOT NULL,
    metric_value REAL NOT NULL,
    unit TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_metrics_snapshot_id ON metrics(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_metrics_metric_name ON metrics(metric_name);
`

// Store implements storage.Store over a single SQLite file. Safe for
// concurrent use: the mutex serializes each write's check-then-insert
// (UpsertAggregator, CreateDevice, InsertSnapshot) and reads take it shared.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open creates (if necessary) and opens the SQLite file at path, enabling
// WAL mode and foreign keys, and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("invalid path contains '..': %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	_ = os.Chmod(path, 0o600)

	return &Store{db: db, path: path}, nil
}

// UpsertAggregator implements storage.Store.
func (s *Store) UpsertAggregator(ctx context.Context, name string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT aggregator_id FROM aggregators WHERE name = ?`, name).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id := uuid.New()
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO aggregators (aggregator_id, name, created_at) VALUES (?, ?, ?)`,
			id.String(), name, time.Now().Unix())
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("insert aggregator: %w", err)
		}
		return id, true, nil
	case err != nil:
		return uuid.Nil, false, fmt.Errorf("lookup aggregator: %w", err)
	default:
		id, err := uuid.Parse(existing)
		if err != nil {
			return uuid.Nil, false, fmt.Errorf("parse aggregator id: %w", err)
		}
		return id, false, nil
	}
}

// CreateDevice implements storage.Store.
func (s *Store) CreateDevice(ctx context.Context, aggregatorID uuid.UUID, name, source string) (domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM aggregators WHERE aggregator_id = ?`, aggregatorID.String()).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
		return domain.Device{}, storage.ErrAggregatorNotFound
	} else if err != nil {
		return domain.Device{}, fmt.Errorf("check aggregator: %w", err)
	}

	dev := domain.Device{
		DeviceID:     uuid.New(),
		AggregatorID: aggregatorID,
		Name:         name,
		Source:       source,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, aggregator_id, name, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		dev.DeviceID.String(), dev.AggregatorID.String(), dev.Name, dev.Source, dev.CreatedAt.Unix())
	if err != nil {
		return domain.Device{}, fmt.Errorf("insert device: %w", err)
	}
	return dev, nil
}

// InsertSnapshot implements storage.Store, identical semantics to the
// Postgres backend: re-delivering a SnapshotID already on disk is a no-op.
func (s *Store) InsertSnapshot(ctx context.Context, snap metric.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE device_id = ?`, snap.DeviceID.String()).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
		return storage.ErrDeviceNotFound
	} else if err != nil {
		return fmt.Errorf("check device: %w", err)
	}

	var already int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE snapshot_id = ?`, snap.SnapshotID.String()).Scan(&already)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (snapshot_id, device_id, collected_at) VALUES (?, ?, ?)`,
		snap.SnapshotID.String(), snap.DeviceID.String(), snap.CollectedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics (snapshot_id, metric_name, metric_value, unit) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare metric insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range snap.Metrics {
		if _, err := stmt.ExecContext(ctx, snap.SnapshotID.String(), m.Name(), m.Value(), m.Unit()); err != nil {
			return fmt.Errorf("insert metric row: %w", err)
		}
	}

	return tx.Commit()
}

// QueryMetrics implements storage.Store.
func (s *Store) QueryMetrics(ctx context.Context, q storage.MetricQuery) ([]storage.StoredMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var conds []string
	var args []interface{}
	if q.DeviceID != nil {
		conds = append(conds, "d.device_id = ?")
		args = append(args, q.DeviceID.String())
	}
	if q.Source != "" {
		conds = append(conds, "d.source = ?")
		args = append(args, q.Source)
	}
	if q.Since != nil {
		conds = append(conds, "s.collected_at > ?")
		args = append(args, q.Since.Unix())
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT s.snapshot_id, d.device_id, d.source, s.collected_at, m.metric_name, m.metric_value, m.unit
		FROM metrics m
		JOIN snapshots s ON s.snapshot_id = m.snapshot_id
		JOIN devices d ON d.device_id = s.device_id
		%s
		ORDER BY s.collected_at ASC
		LIMIT ?`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []storage.StoredMetric
	for rows.Next() {
		var snapshotID, deviceID string
		var collectedAt int64
		var m storage.StoredMetric
		if err := rows.Scan(&snapshotID, &deviceID, &m.Source, &collectedAt, &m.Name, &m.Value, &m.Unit); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		m.SnapshotID, err = uuid.Parse(snapshotID)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot id: %w", err)
		}
		m.DeviceID, err = uuid.Parse(deviceID)
		if err != nil {
			return nil, fmt.Errorf("parse device id: %w", err)
		}
		m.CollectedAt = time.Unix(collectedAt, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Health implements storage.Store.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
