// Package config loads and validates the typed configuration shared by the
// aggregator and ingestion server binaries. Values are loaded once from a
// TOML file via viper and validated with struct tags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AggregatorConfig is the [aggregator] section: identity and handshake
// tuning for the orchestrator.
type AggregatorConfig struct {
	Name              string        `mapstructure:"name" validate:"required"`
	IngestBaseURL     string        `mapstructure:"ingest_base_url" validate:"required,url"`
	APIKey            string        `mapstructure:"api_key"`
	HandshakeInterval time.Duration `mapstructure:"handshake_interval" validate:"required,gt=0"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" validate:"required,gt=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"required,gt=0"`
}

// CollectorsConfig is the [collectors] section: which collectors are
// enabled and the decimal precision their values are rounded to. Each
// collector's tick interval lives in its own section.
type CollectorsConfig struct {
	LocalEnabled     bool `mapstructure:"local_enabled"`
	WikipediaEnabled bool `mapstructure:"wikipedia_enabled"`
	TransportEnabled bool `mapstructure:"transport_enabled"`
	MetricPrecision  int  `mapstructure:"metric_precision" validate:"gte=0,lte=10"`
}

// LocalCollectorConfig is the [local_collector] section.
type LocalCollectorConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"required,gt=0"`
}

// WikipediaCollectorConfig is the [wikipedia_collector] section.
type WikipediaCollectorConfig struct {
	Interval          time.Duration `mapstructure:"interval" validate:"required,gt=0"`
	CollectionWindow  time.Duration `mapstructure:"collection_window" validate:"required,gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"required,gt=0"`
	UserAgent         string        `mapstructure:"user_agent" validate:"required"`
}

// TransportCollectorConfig is the [transport_collector] section: the
// optional GTFS-realtime collector, supplemented beyond spec.md's required
// collectors and disabled by default.
type TransportCollectorConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Interval            time.Duration `mapstructure:"interval" validate:"required_if=Enabled true,omitempty,gt=0"`
	VehiclePositionsURL string        `mapstructure:"vehicle_positions_url" validate:"required_if=Enabled true,omitempty,url"`
	TripUpdatesURL      string        `mapstructure:"trip_updates_url" validate:"required_if=Enabled true,omitempty,url"`
}

// UploadQueueConfig is the [upload_queue] section.
type UploadQueueConfig struct {
	RedisAddr         string        `mapstructure:"redis_addr" validate:"required"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" validate:"required,gt=0"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" validate:"required,gt=1"`
	MaxRetryAttempts  uint32        `mapstructure:"max_retry_attempts" validate:"required,gt=0"`
	WorkerSleep       time.Duration `mapstructure:"worker_sleep" validate:"required,gt=0"`
	DrainBatchSize    int           `mapstructure:"drain_batch_size" validate:"required,gt=0"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"required,gt=0"`
}

// LoggingConfig is the [logging] section, adapted from pkg/logger.Config.
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"required,oneof=json text"`
	Output     string `mapstructure:"output" validate:"required,oneof=stdout stderr file"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// IngestConfig is the [ingest] section: the ingestion server binary.
type IngestConfig struct {
	ListenAddr          string        `mapstructure:"listen_addr" validate:"required"`
	APIKey              string        `mapstructure:"api_key" validate:"required"`
	RequireKeyOnReads   bool          `mapstructure:"require_key_on_reads"`
	StorageBackend      string        `mapstructure:"storage_backend" validate:"required,oneof=postgres sqlite"`
	PostgresDSN         string        `mapstructure:"postgres_dsn" validate:"required_if=StorageBackend postgres"`
	SQLitePath          string        `mapstructure:"sqlite_path" validate:"required_if=StorageBackend sqlite"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period" validate:"required,gt=0"`
}

// Config is the root configuration object, shared by both binaries; each
// loads and uses only the sections relevant to it.
type Config struct {
	Aggregator         AggregatorConfig         `mapstructure:"aggregator"`
	Collectors         CollectorsConfig         `mapstructure:"collectors"`
	LocalCollector     LocalCollectorConfig     `mapstructure:"local_collector"`
	WikipediaCollector WikipediaCollectorConfig `mapstructure:"wikipedia_collector"`
	TransportCollector TransportCollectorConfig `mapstructure:"transport_collector"`
	UploadQueue        UploadQueueConfig        `mapstructure:"upload_queue"`
	Logging            LoggingConfig            `mapstructure:"logging"`
	Ingest             IngestConfig             `mapstructure:"ingest"`
}

var validate = validator.New()

// Load reads configPath (a TOML file) and environment overrides (prefixed
// with the section name, `.` replaced by `_`), then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("aggregator.handshake_interval", "500ms")
	v.SetDefault("aggregator.handshake_timeout", "30s")
	v.SetDefault("aggregator.request_timeout", "10s")

	v.SetDefault("collectors.local_enabled", true)
	v.SetDefault("collectors.wikipedia_enabled", true)
	v.SetDefault("collectors.transport_enabled", false)
	v.SetDefault("collectors.metric_precision", 2)

	v.SetDefault("local_collector.interval", "10s")

	v.SetDefault("wikipedia_collector.interval", "60s")
	v.SetDefault("wikipedia_collector.collection_window", "60s")
	v.SetDefault("wikipedia_collector.requests_per_second", 1)
	v.SetDefault("wikipedia_collector.user_agent", "telemetry-pipeline/1.0 (+https://github.com/vitaliisemenov/telemetry-pipeline)")

	v.SetDefault("transport_collector.enabled", false)

	v.SetDefault("upload_queue.redis_addr", "localhost:6379")
	v.SetDefault("upload_queue.redis_db", 0)
	v.SetDefault("upload_queue.backoff_base", "1s")
	v.SetDefault("upload_queue.backoff_multiplier", 2.0)
	v.SetDefault("upload_queue.max_retry_attempts", 5)
	v.SetDefault("upload_queue.worker_sleep", "200ms")
	v.SetDefault("upload_queue.drain_batch_size", 10)
	v.SetDefault("upload_queue.request_timeout", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("ingest.listen_addr", ":8080")
	v.SetDefault("ingest.require_key_on_reads", false)
	v.SetDefault("ingest.storage_backend", "postgres")
	v.SetDefault("ingest.shutdown_grace_period", "30s")
}
