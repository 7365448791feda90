// Package domain holds the ingestion server's relational domain types.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

// Aggregator is one registered aggregator process.
type Aggregator struct {
	AggregatorID uuid.UUID
	Name         string
	CreatedAt    time.Time
}

// Device is one collector's registered device record, scoped to an
// Aggregator.
type Device struct {
	DeviceID     uuid.UUID
	AggregatorID uuid.UUID
	Name         string
	Source       string
	CreatedAt    time.Time
}

// PersistedSnapshot is a Snapshot as stored by the ingestion server, with
// the server-observed receive time attached.
type PersistedSnapshot struct {
	metric.Snapshot
	ReceivedAt time.Time
}
