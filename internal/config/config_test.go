package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/config"
)

const validTOML = `
[aggregator]
name = "host-1"
ingest_base_url = "http://localhost:8080"
api_key = "secret"

[upload_queue]
redis_addr = "localhost:6379"

[logging]
level = "info"
format = "json"
output = "stdout"

[ingest]
listen_addr = ":8080"
api_key = "secret"
storage_backend = "postgres"
postgres_dsn = "postgres://localhost/telemetry"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTemp(t, validTOML)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "host-1", cfg.Aggregator.Name)
	assert.Equal(t, "localhost:6379", cfg.UploadQueue.RedisAddr)
	assert.Equal(t, uint32(5), cfg.UploadQueue.MaxRetryAttempts)
	assert.Equal(t, "postgres", cfg.Ingest.StorageBackend)
}

func TestLoad_MissingRequiredField(t *testing.T) {
	path := writeTemp(t, `
[aggregator]
ingest_base_url = "http://localhost:8080"

[upload_queue]
redis_addr = "localhost:6379"

[logging]
level = "info"
format = "json"
output = "stdout"

[ingest]
listen_addr = ":8080"
api_key = "secret"
storage_backend = "sqlite"
sqlite_path = "/tmp/x.db"
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_TransportDisabledSkipsURLValidation(t *testing.T) {
	path := writeTemp(t, validTOML)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.TransportCollector.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
