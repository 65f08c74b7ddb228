package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by Pop when no job arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

// JobQueue is a FIFO of opaque payloads on a Redis list.
type JobQueue struct {
	client *redis.Client
	key    string
}

func NewJobQueue(client *redis.Client, key string) *JobQueue {
	return &JobQueue{client: client, key: key}
}

// Push appends a payload to the tail of the queue.
func (q *JobQueue) Push(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push %s: %w", q.key, err)
	}
	return nil
}

// Pop blocks up to timeout for the oldest payload.
func (q *JobQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("pop %s: %w", q.key, err)
	}
	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("pop %s: unexpected reply length %d", q.key, len(res))
	}
	return []byte(res[1]), nil
}

// Len reports the number of queued payloads.
func (q *JobQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
