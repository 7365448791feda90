// Package orchestrator wires the aggregator process together: it waits for
// the ingestion server to become healthy, registers the aggregator and its
// devices, starts the upload queue and every enabled collector, and tears
// everything down in reverse order on shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/collector"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/queue"
)

// HealthWaiter is the subset of registration.Client the orchestrator needs
// to gate startup on the ingestion server being reachable.
type HealthWaiter interface {
	WaitHealthy(ctx context.Context, interval, timeout time.Duration) error
	RegisterAggregator(ctx context.Context, name string) (uuid.UUID, bool, error)
	RegisterDevice(ctx context.Context, aggregatorID uuid.UUID, name, source string) (uuid.UUID, error)
}

// CollectorSpec pairs a collector with its sampling interval.
type CollectorSpec struct {
	Collector collector.Collector
	Interval  time.Duration
}

// Config bundles everything the orchestrator needs to start one
// aggregator's worth of collectors.
type Config struct {
	AggregatorName    string
	HandshakeInterval time.Duration
	HandshakeTimeout  time.Duration
	Collectors        []CollectorSpec
}

// Orchestrator owns the upload queue, the registration handshake, and one
// Runner per configured collector.
type Orchestrator struct {
	cfg      Config
	client   HealthWaiter
	q        *queue.Queue
	logger   *slog.Logger
	runners  []*collector.Runner
	deviceID map[string]uuid.UUID
}

// New builds an Orchestrator. Call Start to run the handshake and launch
// every collector.
func New(cfg Config, client HealthWaiter, q *queue.Queue, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		client:   client,
		q:        q,
		logger:   logger,
		deviceID: make(map[string]uuid.UUID),
	}
}

// Start waits for the ingestion server's health check, registers the
// aggregator and one device per collector source, starts the upload queue,
// and starts every collector's Runner. It returns once every collector is
// running; collector ticks continue in the background until Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.client.WaitHealthy(ctx, o.cfg.HandshakeInterval, o.cfg.HandshakeTimeout); err != nil {
		return fmt.Errorf("ingestion server did not become healthy: %w", err)
	}

	aggregatorID, created, err := o.client.RegisterAggregator(ctx, o.cfg.AggregatorName)
	if err != nil {
		return fmt.Errorf("register aggregator: %w", err)
	}
	o.logger.Info("aggregator registered", "aggregator_id", aggregatorID, "created", created)

	o.q.Start(ctx)

	for _, spec := range o.cfg.Collectors {
		source := spec.Collector.Source()
		deviceID, err := o.client.RegisterDevice(ctx, aggregatorID, source, source)
		if err != nil {
			o.Stop(ctx)
			return fmt.Errorf("register device for %s: %w", source, err)
		}
		o.deviceID[source] = deviceID

		runner := collector.NewRunner(spec.Collector, o.q, spec.Interval, o.logger)
		runner.Start(ctx, deviceID)
		o.runners = append(o.runners, runner)
	}

	return nil
}

// Stop stops every collector Runner and the upload queue, in that order so
// in-flight ticks drain into the queue before it shuts down.
func (o *Orchestrator) Stop(ctx context.Context) {
	for _, r := range o.runners {
		if err := r.Stop(ctx); err != nil {
			o.logger.Warn("collector runner stop error", "error", err)
		}
	}
	if err := o.q.Stop(ctx); err != nil {
		o.logger.Warn("queue stop error", "error", err)
	}
}

// DeviceID returns the registered device ID for a collector source, for
// tests and diagnostics.
func (o *Orchestrator) DeviceID(source string) (uuid.UUID, bool) {
	id, ok := o.deviceID[source]
	return id, ok
}
