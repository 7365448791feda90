// Package metric defines the value objects shared by every collector and the
// ingestion server: a single named measurement and the snapshot that bundles
// a device's measurements taken at one instant.
package metric

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

const (
	maxNameLen = 255
	maxUnitLen = 50
)

var (
	// ErrEmptyName indicates a metric was constructed without a name.
	ErrEmptyName = errors.New("metric: name must not be empty")
	// ErrNameTooLong indicates a metric name exceeds the wire limit.
	ErrNameTooLong = errors.New("metric: name exceeds 255 bytes")
	// ErrUnitTooLong indicates a unit string exceeds the wire limit.
	ErrUnitTooLong = errors.New("metric: unit exceeds 50 bytes")
	// ErrNonFiniteValue indicates a metric value is NaN or +/-Inf.
	ErrNonFiniteValue = errors.New("metric: value must be finite")
)

// MetricEntry is a single named measurement. It is immutable once built by
// NewMetricEntry so that a Collector can never hand the queue a value that
// violates the wire contract.
type MetricEntry struct {
	name  string
	value float64
	unit  string
}

// NewMetricEntry validates and constructs a MetricEntry.
func NewMetricEntry(name string, value float64, unit string) (MetricEntry, error) {
	if name == "" {
		return MetricEntry{}, ErrEmptyName
	}
	if len(name) > maxNameLen {
		return MetricEntry{}, fmt.Errorf("%w: %q is %d bytes", ErrNameTooLong, name, len(name))
	}
	if len(unit) > maxUnitLen {
		return MetricEntry{}, fmt.Errorf("%w: %q is %d bytes", ErrUnitTooLong, unit, len(unit))
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return MetricEntry{}, fmt.Errorf("%w: got %v for metric %q", ErrNonFiniteValue, value, name)
	}
	return MetricEntry{name: name, value: value, unit: unit}, nil
}

// Name returns the metric name.
func (m MetricEntry) Name() string { return m.name }

// Value returns the metric value.
func (m MetricEntry) Value() float64 { return m.value }

// Unit returns the metric unit, which may be empty.
func (m MetricEntry) Unit() string { return m.unit }

// metricEntryWire is the JSON envelope for a MetricEntry per the server's
// wire contract.
type metricEntryWire struct {
	Name  string  `json:"metric_name"`
	Value float64 `json:"metric_value"`
	Unit  string  `json:"unit,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m MetricEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(metricEntryWire{Name: m.name, Value: m.value, Unit: m.unit})
}

// UnmarshalJSON implements json.Unmarshaler, re-validating on the way in.
func (m *MetricEntry) UnmarshalJSON(data []byte) error {
	var w metricEntryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	entry, err := NewMetricEntry(w.Name, w.Value, w.Unit)
	if err != nil {
		return err
	}
	*m = entry
	return nil
}

// Snapshot bundles the metrics a device produced at one instant.
type Snapshot struct {
	SnapshotID  uuid.UUID
	DeviceID    uuid.UUID
	CollectedAt time.Time
	Metrics     []MetricEntry
}

// NewSnapshot constructs a Snapshot; the returned error is always nil, since
// each MetricEntry was already validated when it was built. The SnapshotID is
// generated here so a collector never has to invent one. An empty metrics
// slice is valid: it persists a snapshot with zero metric rows.
func NewSnapshot(deviceID uuid.UUID, collectedAt time.Time, metrics []MetricEntry) (Snapshot, error) {
	return Snapshot{
		SnapshotID:  uuid.New(),
		DeviceID:    deviceID,
		CollectedAt: collectedAt,
		Metrics:     metrics,
	}, nil
}

type snapshotWire struct {
	SnapshotID  uuid.UUID         `json:"snapshot_id"`
	DeviceID    uuid.UUID         `json:"device_id"`
	CollectedAt float64           `json:"timestamp"`
	Metrics     []MetricEntry     `json:"metrics"`
}

// MarshalJSON implements json.Marshaler, encoding CollectedAt as float seconds
// since the epoch per the wire contract.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotWire{
		SnapshotID:  s.SnapshotID,
		DeviceID:    s.DeviceID,
		CollectedAt: float64(s.CollectedAt.UnixNano()) / 1e9,
		Metrics:     s.Metrics,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w snapshotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	sec := int64(w.CollectedAt)
	nsec := int64((w.CollectedAt - float64(sec)) * 1e9)
	s.SnapshotID = w.SnapshotID
	s.DeviceID = w.DeviceID
	s.CollectedAt = time.Unix(sec, nsec).UTC()
	s.Metrics = w.Metrics
	return nil
}
