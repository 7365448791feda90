package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/telemetry-pipeline/pkg/apiclient"
)

func TestClient_GetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	c := apiclient.New(srv.URL, "secret", time.Second)
	var out map[string]string
	status, err := c.Get(context.Background(), "/health", &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
}

func TestClient_PostRaw_ReturnsStatusOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := apiclient.New(srv.URL, "", time.Second)
	status, err := c.PostRaw(context.Background(), "/api/metrics", []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestClient_ConnectionRefused_ReturnsError(t *testing.T) {
	c := apiclient.New("http://127.0.0.1:1", "", 100*time.Millisecond)
	_, err := c.Get(context.Background(), "/health", nil)
	assert.Error(t, err)
}
