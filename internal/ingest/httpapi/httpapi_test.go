package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/domain"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/httpapi"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/ingest/storage"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

// stubStore is a minimal storage.Store double for exercising the HTTP
// layer without a real backend.
type stubStore struct {
	aggID       uuid.UUID
	created     bool
	device      domain.Device
	createErr   error
	insertErr   error
	queryResult []storage.StoredMetric
	healthErr   error
}

func (s *stubStore) UpsertAggregator(_ context.Context, _ string) (uuid.UUID, bool, error) {
	return s.aggID, s.created, nil
}

func (s *stubStore) CreateDevice(_ context.Context, _ uuid.UUID, _, _ string) (domain.Device, error) {
	if s.createErr != nil {
		return domain.Device{}, s.createErr
	}
	return s.device, nil
}

func (s *stubStore) InsertSnapshot(_ context.Context, _ metric.Snapshot) error {
	return s.insertErr
}

func (s *stubStore) QueryMetrics(_ context.Context, _ storage.MetricQuery) ([]storage.StoredMetric, error) {
	return s.queryResult, nil
}

func (s *stubStore) Health(_ context.Context) error { return s.healthErr }
func (s *stubStore) Close() error                   { return nil }

func newTestServer(t *testing.T, store storage.Store) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	router := httpapi.NewRouter(store, logger, httpapi.Config{APIKey: "secret"})
	return httptest.NewServer(router)
}

func TestHealth_NoAPIKeyRequired(t *testing.T) {
	srv := newTestServer(t, &stubStore{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterAggregator_RequiresAPIKey(t *testing.T) {
	srv := newTestServer(t, &stubStore{})
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"name": "host-1"})
	resp, err := http.Post(srv.URL+"/aggregators", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterAggregator_Succeeds(t *testing.T) {
	store := &stubStore{aggID: uuid.New(), created: true}
	srv := newTestServer(t, store)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"name": "host-1"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/aggregators", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRegisterDevice_UnknownAggregatorReturns404(t *testing.T) {
	store := &stubStore{createErr: storage.ErrAggregatorNotFound}
	srv := newTestServer(t, store)
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"aggregator_id": uuid.New().String(), "name": "cpu", "source": "local"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/devices", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestMetrics_UnknownDeviceReturns404(t *testing.T) {
	store := &stubStore{insertErr: storage.ErrDeviceNotFound}
	srv := newTestServer(t, store)
	defer srv.Close()

	entry, err := metric.NewMetricEntry("cpu_percent", 1, "percent")
	require.NoError(t, err)
	snap, err := metric.NewSnapshot(uuid.New(), time.Now(), []metric.MetricEntry{entry})
	require.NoError(t, err)
	body, _ := json.Marshal(snap)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/metrics", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestMetrics_Succeeds(t *testing.T) {
	store := &stubStore{}
	srv := newTestServer(t, store)
	defer srv.Close()

	entry, err := metric.NewMetricEntry("cpu_percent", 1, "percent")
	require.NoError(t, err)
	snap, err := metric.NewSnapshot(uuid.New(), time.Now(), []metric.MetricEntry{entry})
	require.NoError(t, err)
	body, _ := json.Marshal(snap)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/metrics", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestQueryMetrics_ReturnsResults(t *testing.T) {
	store := &stubStore{queryResult: []storage.StoredMetric{{Name: "cpu_percent", Value: 1}}}
	srv := newTestServer(t, store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/metrics?source=local")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string][]storage.StoredMetric
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Len(t, decoded["metrics"], 1)
}

func TestQueryMetrics_RejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, &stubStore{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/metrics?limit=notanumber")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
