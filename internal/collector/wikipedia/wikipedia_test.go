package wikipedia_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/collector/wikipedia"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

const testUserAgent = "telemetry-pipeline/1.0 (contact@example.com)"

func TestCollector_Source(t *testing.T) {
	c, err := wikipedia.New(time.Minute, 1, testUserAgent)
	require.NoError(t, err)
	assert.Equal(t, "wikipedia", c.Source())
}

func TestCollector_Collect_FiltersNamespaceAndType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":{"recentchanges":[
			{"type":"edit","ns":0,"revid":1,"title":"A","timestamp":"2024-01-01T00:00:00Z"},
			{"type":"new","ns":0,"revid":2,"title":"B","timestamp":"2024-01-01T00:00:01Z"},
			{"type":"edit","ns":1,"revid":3,"title":"Talk:A","timestamp":"2024-01-01T00:00:02Z"},
			{"type":"log","ns":0,"revid":4,"title":"C","timestamp":"2024-01-01T00:00:03Z"}
		]}}`))
	}))
	defer srv.Close()

	c, err := wikipedia.New(time.Minute, 1000, testUserAgent)
	require.NoError(t, err)
	wikipedia.SetAPIURLForTest(c, srv.URL)

	entries, err := c.Collect(context.Background())
	require.NoError(t, err)

	got := byName(entries)
	assert.Equal(t, 2.0, got["edit_count"])
	assert.Equal(t, 1.0, got["query_success"])
}

func TestCollector_Collect_DedupsAcrossCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":{"recentchanges":[
			{"type":"edit","ns":0,"revid":1,"title":"A","timestamp":"2024-01-01T00:00:00Z"}
		]}}`))
	}))
	defer srv.Close()

	c, err := wikipedia.New(time.Minute, 1000, testUserAgent)
	require.NoError(t, err)
	wikipedia.SetAPIURLForTest(c, srv.URL)

	first, err := c.Collect(context.Background())
	require.NoError(t, err)
	second, err := c.Collect(context.Background())
	require.NoError(t, err)

	firstCount := byName(first)["edit_count"]
	secondCount := byName(second)["edit_count"]
	assert.Equal(t, 1.0, firstCount)
	assert.Equal(t, 0.0, secondCount)
}

func TestCollector_Collect_SetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"query":{"recentchanges":[]}}`))
	}))
	defer srv.Close()

	c, err := wikipedia.New(time.Minute, 1000, testUserAgent)
	require.NoError(t, err)
	wikipedia.SetAPIURLForTest(c, srv.URL)

	_, err = c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testUserAgent, gotUA)
}

func TestCollector_Collect_ServerDown_ReportsZeroNotError(t *testing.T) {
	c, err := wikipedia.New(time.Minute, 1000, testUserAgent)
	require.NoError(t, err)
	wikipedia.SetAPIURLForTest(c, "http://127.0.0.1:1")

	entries, err := c.Collect(context.Background())
	require.NoError(t, err)

	got := byName(entries)
	assert.Equal(t, 0.0, got["edit_count"])
	assert.Equal(t, 0.0, got["query_success"])
}

func byName(entries []metric.MetricEntry) map[string]float64 {
	m := make(map[string]float64, len(entries))
	for _, e := range entries {
		m[e.Name()] = e.Value()
	}
	return m
}
