// Package collector defines the contract every host collector implements and
// the scheduling loop shared by all of them.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
)

// Collector samples one or more metrics from a source and reports them.
// Collect must never block past ctx's deadline and must never panic; a
// failed sample is reported through the returned error, not a partial slice.
type Collector interface {
	// Collect samples the current metrics. A non-nil error means the whole
	// sample is discarded for this tick.
	Collect(ctx context.Context) ([]metric.MetricEntry, error)
	// Source identifies the collector for logging and the device record.
	Source() string
}

// Sink receives the snapshots a Runner produces. internal/queue.Queue
// implements this.
type Sink interface {
	Put(snapshot metric.Snapshot) bool
}

// runState enumerates a Runner's lifecycle. Transitions are New -> Running ->
// Stopping -> Stopped, enforced with atomic compare-and-swap rather than a
// mutex-guarded field.
type runState int32

const (
	stateNew runState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Runner owns the ticker loop shared by every concrete collector: it calls
// Collect on an interval, wraps the result into a metric.Snapshot, and hands
// it to a Sink. Concrete collectors implement only Collector; the
// orchestrator builds one Runner per collector with NewRunner and passes the
// device ID to Start once the registration handshake has produced one.
type Runner struct {
	collector Collector
	sink      Sink
	interval  time.Duration
	logger    *slog.Logger

	state    atomic.Int32
	stopOnce sync.Once
	done     chan struct{}
}

// NewRunner builds a Runner. The device ID is supplied to Start rather than
// the constructor so the orchestrator can build collectors before the
// registration handshake has assigned device IDs.
func NewRunner(c Collector, sink Sink, interval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		collector: c,
		sink:      sink,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
	r.state.Store(int32(stateNew))
	return r
}

// IsRunning reports whether the loop is currently active.
func (r *Runner) IsRunning() bool {
	return runState(r.state.Load()) == stateRunning
}

// Start launches the scheduling loop in a new goroutine. Calling Start when
// the Runner is not in state New logs a warning and does nothing.
func (r *Runner) Start(ctx context.Context, deviceID uuid.UUID) {
	if !r.state.CompareAndSwap(int32(stateNew), int32(stateRunning)) {
		r.logger.Warn("collector start ignored, not in new state",
			"source", r.collector.Source())
		return
	}
	go r.loop(ctx, deviceID)
}

// Stop requests shutdown and blocks until the loop has exited or ctx's grace
// period elapses. Stop is idempotent.
func (r *Runner) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.state.CompareAndSwap(int32(stateRunning), int32(stateStopping))
	})
	select {
	case <-r.done:
		r.state.Store(int32(stateStopped))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context, deviceID uuid.UUID) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	// Stop only flips the state to Stopping; check it once a second so a
	// long interval does not hold up shutdown.
	stopCheck := time.NewTicker(time.Second)
	defer stopCheck.Stop()

	source := r.collector.Source()
	for {
		select {
		case <-ctx.Done():
			r.state.Store(int32(stateStopped))
			return
		case <-stopCheck.C:
			if runState(r.state.Load()) == stateStopping {
				return
			}
		case <-ticker.C:
			r.tick(ctx, deviceID, source)
		}
	}
}

func (r *Runner) tick(ctx context.Context, deviceID uuid.UUID, source string) {
	tickCtx, cancel := context.WithTimeout(ctx, r.interval+5*time.Second)
	defer cancel()

	entries, err := r.collector.Collect(tickCtx)
	if err != nil {
		r.logger.Warn("collector tick failed", "source", source, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	snap, err := metric.NewSnapshot(deviceID, time.Now().UTC(), entries)
	if err != nil {
		r.logger.Warn("collector produced invalid snapshot", "source", source, "error", err)
		return
	}

	if ok := r.sink.Put(snap); !ok {
		r.logger.Warn("queue rejected snapshot, dropping", "source", source, "snapshot_id", snap.SnapshotID)
	}
}
