package metric_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

func TestNewMetricEntry_Valid(t *testing.T) {
	m, err := metric.NewMetricEntry("cpu_usage_percent", 42.5, "percent")
	require.NoError(t, err)
	assert.Equal(t, "cpu_usage_percent", m.Name())
	assert.Equal(t, 42.5, m.Value())
	assert.Equal(t, "percent", m.Unit())
}

func TestNewMetricEntry_Rejects(t *testing.T) {
	_, err := metric.NewMetricEntry("", 1, "")
	assert.ErrorIs(t, err, metric.ErrEmptyName)

	_, err = metric.NewMetricEntry("x", math.NaN(), "")
	assert.ErrorIs(t, err, metric.ErrNonFiniteValue)

	_, err = metric.NewMetricEntry("x", math.Inf(1), "")
	assert.ErrorIs(t, err, metric.ErrNonFiniteValue)

	longName := make([]byte, 256)
	_, err = metric.NewMetricEntry(string(longName), 1, "")
	assert.ErrorIs(t, err, metric.ErrNameTooLong)
}

func TestMetricEntry_JSONRoundTrip(t *testing.T) {
	m, err := metric.NewMetricEntry("ram_usage_mb", 1024.5, "MB")
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"metric_name":"ram_usage_mb","metric_value":1024.5,"unit":"MB"}`, string(data))

	var out metric.MetricEntry
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, m, out)
}

func TestNewSnapshot_AcceptsEmptyMetrics(t *testing.T) {
	deviceID := uuid.New()
	collected := time.Now()
	snap, err := metric.NewSnapshot(deviceID, collected, nil)
	require.NoError(t, err)
	assert.Equal(t, deviceID, snap.DeviceID)
	assert.Empty(t, snap.Metrics)
	assert.NotEqual(t, uuid.Nil, snap.SnapshotID)
}

func TestSnapshot_JSONRoundTrip_EmptyMetrics(t *testing.T) {
	deviceID := uuid.New()
	collected := time.Now().UTC().Round(time.Millisecond)
	snap, err := metric.NewSnapshot(deviceID, collected, nil)
	require.NoError(t, err)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var out metric.Snapshot
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Empty(t, out.Metrics)
	assert.Equal(t, snap.DeviceID, out.DeviceID)
}

func TestSnapshot_JSONRoundTrip(t *testing.T) {
	m, err := metric.NewMetricEntry("cpu_usage_percent", 10, "percent")
	require.NoError(t, err)

	deviceID := uuid.New()
	collected := time.Now().UTC().Round(time.Millisecond)
	snap, err := metric.NewSnapshot(deviceID, collected, []metric.MetricEntry{m})
	require.NoError(t, err)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var out metric.Snapshot
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, snap.SnapshotID, out.SnapshotID)
	assert.Equal(t, snap.DeviceID, out.DeviceID)
	assert.WithinDuration(t, snap.CollectedAt, out.CollectedAt, time.Millisecond)
	assert.Equal(t, snap.Metrics, out.Metrics)
}
