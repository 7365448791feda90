package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DatabaseConnection defines the interface for talking to the database
type DatabaseConnection interface {
	// Lifecycle management
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Health monitoring
	Health(ctx context.Context) error
	Stats() PoolStats

	// Query execution
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row

	// Transaction support
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresPool is a pgxpool-backed connection pool
type PostgresPool struct {
	pool     *pgxpool.Pool
	config   *PostgresConfig
	logger   *slog.Logger
	metrics  *PoolMetrics
	health   HealthChecker
	breaker  *CircuitBreakerHealthChecker
	retryer  *RetryExecutor
	isClosed atomic.Bool
	closeCh  chan struct{}
}

// NewPostgresPool builds a new pool, not yet connected
func NewPostgresPool(config *PostgresConfig, logger *slog.Logger) *PostgresPool {
	if logger == nil {
		logger = slog.Default()
	}

	pool := &PostgresPool{
		config:   config,
		logger:   logger,
		metrics:  NewPoolMetrics(),
		isClosed: atomic.Bool{},
		closeCh:  make(chan struct{}),
	}

	// the periodic checker always probes the real connection; request-time
	// Health() goes through a circuit breaker on top of the same checker so
	// a flapping database doesn't get hammered by every /health poll.
	pool.health = NewHealthChecker(pool)
	pool.breaker = NewCircuitBreakerHealthChecker(pool.health, 5, 30*time.Second)
	pool.retryer = NewRetryExecutor(DefaultRetryConfig(), logger)

	return pool
}

// Connect establishes the pool's connection to PostgreSQL
func (p *PostgresPool) Connect(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	// validate the configuration first
	if err := p.config.Validate(); err != nil {
		p.logger.Error("Invalid database configuration", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	p.logger.Info("Connecting to PostgreSQL",
		"host", p.config.Host,
		"port", p.config.Port,
		"database", p.config.Database,
		"user", p.config.User,
		"ssl_mode", p.config.SSLMode,
		"max_conns", p.config.MaxConns,
		"min_conns", p.config.MinConns)

	// build the pgxpool config from the DSN
	poolConfig, err := pgxpool.ParseConfig(p.config.DSN())
	if err != nil {
		p.logger.Error("Failed to parse database DSN", "error", err)
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// apply pool sizing from config
	poolConfig.MaxConns = p.config.MaxConns
	poolConfig.MinConns = p.config.MinConns
	poolConfig.MaxConnLifetime = p.config.MaxConnLifetime
	poolConfig.MaxConnIdleTime = p.config.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = p.config.HealthCheckPeriod

	// bound the connect attempt with its own timeout
	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	start := time.Now()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		p.logger.Error("Failed to create connection pool", "error", err)
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// ping once to confirm the connection actually works
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		p.logger.Error("Failed to ping database", "error", err)
		p.metrics.RecordConnectionError()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	p.pool = pool
	connectionTime := time.Since(start)
	p.metrics.RecordConnectionWait(connectionTime)
	p.metrics.RecordSuccessfulConnection()

	p.logger.Info("Successfully connected to PostgreSQL",
		"connection_time", connectionTime,
		"max_conns", p.config.MaxConns,
		"min_conns", p.config.MinConns)

	// start the periodic health check loop; it runs until ctx ends or
	// Disconnect signals closeCh
	if healthChecker, ok := p.health.(*DefaultHealthChecker); ok {
		healthCtx, stopHealth := context.WithCancel(ctx)
		periodicChecker := NewPeriodicHealthChecker(healthChecker, p.config.HealthCheckPeriod)
		go periodicChecker.Start(healthCtx)
		go func() {
			select {
			case <-p.closeCh:
			case <-healthCtx.Done():
			}
			stopHealth()
		}()
	}

	return nil
}

// Disconnect closes the pool
func (p *PostgresPool) Disconnect(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}

	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	p.logger.Info("Disconnecting from PostgreSQL")

	// signal the health check loop to stop
	select {
	case p.closeCh <- struct{}{}:
	default:
		// no receiver: the health check loop has already exited
	}

	// close the underlying pgxpool
	p.pool.Close()

	p.isClosed.Store(true)
	p.logger.Info("Successfully disconnected from PostgreSQL")

	return nil
}

// IsConnected reports whether the pool currently holds a connection
func (p *PostgresPool) IsConnected() bool {
	if p.isClosed.Load() || p.pool == nil {
		return false
	}

	// inspect pgxpool's live stats
	stats := p.pool.Stat()
	return stats.TotalConns() > 0
}

// Health runs the configured health check
func (p *PostgresPool) Health(ctx context.Context) error {
	if p.isClosed.Load() {
		return ErrConnectionClosed
	}

	if p.pool == nil {
		return ErrNotConnected
	}

	return p.breaker.CheckHealth(ctx)
}

// Stats returns the pool's current statistics
func (p *PostgresPool) Stats() PoolStats {
	if p.pool == nil {
		return PoolStats{}
	}

	// refresh the gauges from pgxpool's own stats
	poolStats := p.pool.Stat()
	totalConns := int64(poolStats.TotalConns())
	acquiredConns := int64(poolStats.AcquiredConns())
	p.metrics.UpdateConnectionStats(
		int32(acquiredConns),
		int32(totalConns-acquiredConns),
		totalConns,
	)

	return p.metrics.Snapshot()
}

// Retry runs fn, retrying transient failures (as classified by
// IsRetryable) with backoff before giving up. Callers use this to wrap a
// single statement or a whole transaction that is safe to re-run in full —
// an idempotent upsert, or a snapshot insert guarded by ON CONFLICT DO
// NOTHING.
func (p *PostgresPool) Retry(ctx context.Context, fn func() error) error {
	if p.pool == nil {
		return ErrNotConnected
	}
	return p.retryer.Execute(ctx, fn)
}

// Query runs a statement and returns rows. Transient failures are retried
// through the pool's RetryExecutor, the same one Retry uses.
func (p *PostgresPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}

	result, retryErr := p.retryer.ExecuteWithResult(ctx, func() (interface{}, error) {
		start := time.Now()
		rows, err := p.pool.Query(ctx, sql, args...)
		duration := time.Since(start)

		if err != nil {
			p.metrics.RecordQueryError()
			p.logger.Error("Query execution failed",
				"sql", sql,
				"duration", duration,
				"error", err)
			return nil, err
		}

		p.metrics.RecordQueryExecution(duration)
		p.logger.Debug("Query executed successfully",
			"sql", sql,
			"duration", duration)
		return rows, nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	return result.(pgx.Rows), nil
}

// QueryRow runs a statement expected to return at most one row
func (p *PostgresPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if p.pool == nil {
		return &errorRow{err: ErrNotConnected}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, sql, args...)
	duration := time.Since(start)

	p.metrics.RecordQueryExecution(duration)
	p.logger.Debug("Query row executed",
		"sql", sql,
		"duration", duration)

	return row
}

// Begin starts a new transaction
func (p *PostgresPool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.pool == nil {
		return nil, ErrNotConnected
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		p.metrics.RecordQueryError()
		p.logger.Error("Failed to begin transaction", "error", err)
		return nil, err
	}

	p.logger.Debug("Transaction started")
	return tx, nil
}

// PrepareStatement prepares a named statement for reuse
func (p *PostgresPool) PrepareStatement(ctx context.Context, name, sql string) error {
	if p.pool == nil {
		return ErrNotConnected
	}

	// acquire a connection to prepare the statement on
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		p.logger.Error("Failed to acquire connection for statement preparation",
			"name", name,
			"error", err)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer conn.Release()

	// prepare the statement on that connection
	_, err = conn.Exec(ctx, "PREPARE "+name+" AS "+sql)
	if err != nil {
		p.logger.Error("Failed to prepare statement",
			"name", name,
			"sql", sql,
			"error", err)
		return fmt.Errorf("%w: %v", ErrPreparedStatementFailed, err)
	}

	p.logger.Info("Prepared statement", "name", name)
	return nil
}

// Close is an alias for Disconnect with a background context
func (p *PostgresPool) Close() error {
	return p.Disconnect(context.Background())
}

// GetConfig returns the pool's configuration
func (p *PostgresPool) GetConfig() *PostgresConfig {
	return p.config
}

// GetMetrics returns the pool's metrics
func (p *PostgresPool) GetMetrics() *PoolMetrics {
	return p.metrics
}

// GetHealthChecker returns the pool's health checker
func (p *PostgresPool) GetHealthChecker() HealthChecker {
	return p.health
}

// Pool returns the underlying pgxpool.Pool for advanced operations
// This is useful when you need direct access to pgxpool features
func (p *PostgresPool) Pool() *pgxpool.Pool {
	return p.pool
}

// errorRow implements pgx.Row for error cases
type errorRow struct {
	err error
}

func (r *errorRow) Scan(dest ...interface{}) error {
	return r.err
}
