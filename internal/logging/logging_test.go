package logging_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/config"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/logging"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("bogus"))
}

func TestNew_BuildsJSONLogger(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	assert.NotNil(t, logger)
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := logging.WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", logging.GetRequestID(ctx))
	assert.Equal(t, "", logging.GetRequestID(context.Background()))
}

func TestMiddleware_AssignsRequestIDHeader(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "json", Output: "stdout"})
	handler := logging.Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, logging.GetRequestID(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
