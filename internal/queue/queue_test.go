package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/metric"
	"github.com/vitaliisemenov/telemetry-pipeline/internal/queue"
)

// memBroker is a minimal in-process Broker used to exercise Queue's worker
// loop without a real Redis.
type memBroker struct {
	mu      sync.Mutex
	pending []queue.Envelope
	retryL  []retryItem
	failed  []queue.Envelope
}

type retryItem struct {
	env        queue.Envelope
	eligibleAt time.Time
}

func newMemBroker() *memBroker {
	return &memBroker{}
}

func (b *memBroker) Put(ctx context.Context, env queue.Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, env)
	return true
}

func (b *memBroker) PopPending(ctx context.Context, timeout time.Duration) (queue.Envelope, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return queue.Envelope{}, false, nil
	}
	env := b.pending[0]
	b.pending = b.pending[1:]
	return env, true, nil
}

func (b *memBroker) DrainDueRetries(ctx context.Context, now time.Time, limit int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	moved := 0
	remaining := b.retryL[:0]
	for _, item := range b.retryL {
		if moved < limit && !item.eligibleAt.After(now) {
			b.pending = append(b.pending, item.env)
			moved++
			continue
		}
		remaining = append(remaining, item)
	}
	b.retryL = remaining
	return moved, nil
}

func (b *memBroker) PushRetry(ctx context.Context, env queue.Envelope, eligibleAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryL = append(b.retryL, retryItem{env: env, eligibleAt: eligibleAt})
	return nil
}

func (b *memBroker) PushFailed(ctx context.Context, env queue.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = append(b.failed, env)
	return nil
}

func (b *memBroker) Stats(ctx context.Context) (int64, int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.pending)), int64(len(b.retryL)), int64(len(b.failed)), nil
}

func (b *memBroker) failedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failed)
}

func (b *memBroker) retryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.retryL)
}

type fakeUploader struct {
	mu      sync.Mutex
	status  int
	err     error
	uploads int
}

func (u *fakeUploader) Upload(ctx context.Context, payload json.RawMessage) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads++
	return u.status, u.err
}

func testCfg() queue.Config {
	return queue.Config{
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		MaxRetryAttempts:  3,
		WorkerSleep:       5 * time.Millisecond,
		DrainBatchSize:    10,
		RequestTimeout:    time.Second,
	}
}

func testSnapshot(t *testing.T) metric.Snapshot {
	m, err := metric.NewMetricEntry("x", 1, "")
	require.NoError(t, err)
	snap, err := metric.NewSnapshot(uuid.New(), time.Now(), []metric.MetricEntry{m})
	require.NoError(t, err)
	return snap
}

func TestQueue_SuccessDeliversOnce(t *testing.T) {
	broker := newMemBroker()
	uploader := &fakeUploader{status: 200}
	q := queue.New(broker, uploader, testCfg(), nil)

	ok := q.Put(testSnapshot(t))
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	assert.Eventually(t, func() bool {
		p, r, f, _ := q.Stats(context.Background())
		return p == 0 && r == 0 && f == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, q.Stop(context.Background()))
	assert.Equal(t, 1, uploader.uploads)
}

func TestQueue_PermanentFailureGoesToFailed(t *testing.T) {
	broker := newMemBroker()
	uploader := &fakeUploader{status: 400}
	q := queue.New(broker, uploader, testCfg(), nil)

	q.Put(testSnapshot(t))

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	assert.Eventually(t, func() bool { return broker.failedCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_TransientRetriesThenFails(t *testing.T) {
	broker := newMemBroker()
	uploader := &fakeUploader{status: 503}
	cfg := testCfg()
	cfg.MaxRetryAttempts = 2
	cfg.BackoffBase = 0
	q := queue.New(broker, uploader, cfg, nil)

	q.Put(testSnapshot(t))

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	assert.Eventually(t, func() bool { return broker.failedCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_NetworkErrorIsTransient(t *testing.T) {
	broker := newMemBroker()
	uploader := &fakeUploader{status: 0, err: errors.New("dial tcp: connection refused")}
	cfg := testCfg()
	cfg.MaxRetryAttempts = 100
	q := queue.New(broker, uploader, cfg, nil)

	q.Put(testSnapshot(t))

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	assert.Eventually(t, func() bool { return broker.retryCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, q.Stop(context.Background()))
}

func TestQueue_PoisonEnvelopeDroppedWithoutRetry(t *testing.T) {
	broker := newMemBroker()
	uploader := &fakeUploader{status: 200}
	q := queue.New(broker, uploader, testCfg(), nil)

	broker.mu.Lock()
	broker.pending = append(broker.pending, queue.Envelope{
		Payload:       json.RawMessage(`{not valid json`),
		FirstQueuedAt: time.Now(),
	})
	broker.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, uploader.uploads)
	assert.Equal(t, 0, broker.failedCount())

	cancel()
	require.NoError(t, q.Stop(context.Background()))
}
