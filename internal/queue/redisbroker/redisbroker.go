// Package redisbroker implements internal/queue.Broker on top of Redis: a
// list for PENDING, a sorted set scored by eligible-at unix time for RETRY,
// and a list for FAILED. Every operation is a single Redis command or a
// pipeline, except that DrainDueRetries moves each envelope with its own
// MULTI/EXEC transaction of ZREM+LPUSH; no transaction spans more than one
// envelope.
package redisbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/telemetry-pipeline/internal/queue"
)

const (
	pendingKey = "metrics:pending"
	retryKey   = "metrics:retry"
	failedKey  = "metrics:failed"
)

// Broker implements queue.Broker against a go-redis/v9 client.
type Broker struct {
	client *redis.Client
	logger *slog.Logger
}

// New builds a Broker. The caller owns the client's lifecycle (creation and
// Close).
func New(client *redis.Client, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{client: client, logger: logger}
}

// Put pushes env onto PENDING via LPUSH. A connection error is logged and
// reported as false rather than returned, matching the queue's non-blocking
// Put contract.
func (b *Broker) Put(ctx context.Context, env queue.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Warn("redisbroker: marshal envelope failed", "error", err)
		return false
	}
	if err := b.client.LPush(ctx, pendingKey, data).Err(); err != nil {
		b.logger.Warn("redisbroker: LPUSH failed", "error", err)
		return false
	}
	return true
}

// PopPending blocks up to timeout for one envelope via BRPOP.
func (b *Broker) PopPending(ctx context.Context, timeout time.Duration) (queue.Envelope, bool, error) {
	result, err := b.client.BRPop(ctx, timeout, pendingKey).Result()
	if errors.Is(err, redis.Nil) {
		return queue.Envelope{}, false, nil
	}
	if err != nil {
		return queue.Envelope{}, false, fmt.Errorf("redisbroker: BRPOP: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) != 2 {
		return queue.Envelope{}, false, fmt.Errorf("redisbroker: unexpected BRPOP reply shape")
	}
	var env queue.Envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		// A malformed envelope is poison, not a broker failure; the caller
		// (queue.Queue) treats an invalid-JSON Payload as droppable, but a
		// broken Envelope wrapper itself can't even be inspected for that,
		// so surface it as an empty poison envelope instead of an error.
		return queue.Envelope{}, true, nil
	}
	return env, true, nil
}

// DrainDueRetries moves envelopes whose score (eligible-at unix seconds) has
// elapsed from RETRY to PENDING. Each member is moved individually inside a
// pipeline of ZREM+LPUSH so a failure partway through leaves no envelope
// duplicated or lost — each move is atomic even though the batch isn't.
func (b *Broker) DrainDueRetries(ctx context.Context, now time.Time, limit int) (int, error) {
	members, err := b.client.ZRangeByScore(ctx, retryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redisbroker: ZRANGEBYSCORE: %w", err)
	}

	moved := 0
	for _, member := range members {
		pipe := b.client.TxPipeline()
		pipe.ZRem(ctx, retryKey, member)
		pipe.LPush(ctx, pendingKey, member)
		if _, err := pipe.Exec(ctx); err != nil {
			b.logger.Warn("redisbroker: failed to move due retry", "error", err)
			continue
		}
		moved++
	}
	return moved, nil
}

// PushRetry stores env on the RETRY sorted set, scored by eligibleAt.
func (b *Broker) PushRetry(ctx context.Context, env queue.Envelope, eligibleAt time.Time) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisbroker: marshal envelope: %w", err)
	}
	err = b.client.ZAdd(ctx, retryKey, redis.Z{
		Score:  float64(eligibleAt.Unix()),
		Member: data,
	}).Err()
	if err != nil {
		return fmt.Errorf("redisbroker: ZADD: %w", err)
	}
	return nil
}

// PushFailed appends env to the FAILED list.
func (b *Broker) PushFailed(ctx context.Context, env queue.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisbroker: marshal envelope: %w", err)
	}
	if err := b.client.LPush(ctx, failedKey, data).Err(); err != nil {
		return fmt.Errorf("redisbroker: LPUSH failed: %w", err)
	}
	return nil
}

// Stats reports the depth of each structure via LLEN/ZCARD/LLEN.
func (b *Broker) Stats(ctx context.Context) (pending, retry, failed int64, err error) {
	pipe := b.client.Pipeline()
	pendingCmd := pipe.LLen(ctx, pendingKey)
	retryCmd := pipe.ZCard(ctx, retryKey)
	failedCmd := pipe.LLen(ctx, failedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, 0, fmt.Errorf("redisbroker: stats pipeline: %w", err)
	}
	return pendingCmd.Val(), retryCmd.Val(), failedCmd.Val(), nil
}
