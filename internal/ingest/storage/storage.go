// Package storage defines the ingestion server's persistence contract,
// implemented by the postgres (primary) and sqlite (embedded/dev) backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/domain"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

// Sentinel errors surfaced by any Store implementation.
var (
	// ErrAggregatorNotFound means a device referenced an unknown aggregator.
	ErrAggregatorNotFound = errors.New("storage: aggregator not found")
	// ErrDeviceNotFound means a snapshot referenced an unknown device.
	ErrDeviceNotFound = errors.New("storage: device not found")
)

// MetricQuery filters a GET /api/metrics read.
type MetricQuery struct {
	DeviceID *uuid.UUID
	Source   string
	Since    *time.Time
	Limit    int
}

// StoredMetric is one row of the joined metrics+snapshots+devices read
// result.
type StoredMetric struct {
	SnapshotID  uuid.UUID
	DeviceID    uuid.UUID
	Source      string
	CollectedAt time.Time
	Name        string
	Value       float64
	Unit        string
}

// Store is the ingestion server's persistence contract.
type Store interface {
	// UpsertAggregator creates or idempotently re-registers an aggregator by
	// name, reporting whether this call created it.
	UpsertAggregator(ctx context.Context, name string) (id uuid.UUID, created bool, err error)

	// CreateDevice registers a device under an aggregator. Returns
	// ErrAggregatorNotFound if aggregatorID doesn't exist.
	CreateDevice(ctx context.Context, aggregatorID uuid.UUID, name, source string) (domain.Device, error)

	// InsertSnapshot persists a snapshot and its metrics idempotently by
	// SnapshotID; re-delivering the same snapshot is a no-op, not an error.
	// Returns ErrDeviceNotFound if snap.DeviceID doesn't exist.
	InsertSnapshot(ctx context.Context, snap metric.Snapshot) error

	// QueryMetrics returns metrics matching q, ordered by collected_at
	// ascending.
	QueryMetrics(ctx context.Context, q MetricQuery) ([]StoredMetric, error)

	// Health reports whether the backing store is reachable.
	Health(ctx context.Context) error

	// Close releases any held resources.
	Close() error
}
