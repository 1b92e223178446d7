package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a reliable queue over Redis lists. Claim atomically moves an
// id from the pending list to a processing list; Ack removes it once the run
// is finalized. Ids left in the processing list after a process crash are
// visible for operators; the task status guard makes re-running them a no-op
// either way.
type RedisQueue struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
}

// NewRedisQueue creates a queue over the given keys.
func NewRedisQueue(rdb *redis.Client, queueKey, processingKey string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueKey: queueKey, processingKey: processingKey}
}

func (q *RedisQueue) Enqueue(ctx context.Context, taskID string) error {
	return q.rdb.LPush(ctx, q.queueKey, taskID).Err()
}

func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (string, error) {
	id, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrQueueEmpty
		}
		return "", err
	}
	return id, nil
}

func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	return q.rdb.LRem(ctx, q.processingKey, 1, taskID).Err()
}

var _ Queue = (*RedisQueue)(nil)
