package document

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RetryQueue holds contractor ids whose contract PDF still has to be
// rendered. Queues are at-least-once: an id may be delivered more than
// once.
type RetryQueue interface {
	Push(ctx context.Context, contractorID string) error

	// Pop removes the oldest id. ok is false when the queue is empty.
	Pop(ctx context.Context) (contractorID string, ok bool, err error)

	Len(ctx context.Context) (int64, error)
}

// --- MemoryRetryQueue ---

// MemoryRetryQueue is a FIFO RetryQueue for single-instance deployments.
// An id already waiting is not queued twice.
type MemoryRetryQueue struct {
	mu      sync.Mutex
	ids     []string
	pending map[string]bool
}

// NewMemoryRetryQueue creates an empty in-memory retry queue.
func NewMemoryRetryQueue() *MemoryRetryQueue {
	return &MemoryRetryQueue{pending: make(map[string]bool)}
}

// Push appends contractorID unless it is already waiting.
func (q *MemoryRetryQueue) Push(_ context.Context, contractorID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending[contractorID] {
		return nil
	}
	q.pending[contractorID] = true
	q.ids = append(q.ids, contractorID)
	return nil
}

// Pop removes the oldest id.
func (q *MemoryRetryQueue) Pop(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false, nil
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	delete(q.pending, id)
	return id, true, nil
}

// Len returns the number of waiting ids.
func (q *MemoryRetryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ids)), nil
}

// --- RedisRetryQueue ---

// DefaultRetryKey is the Redis list used by RedisRetryQueue.
const DefaultRetryKey = "onboard:render:retry"

// RedisRetryQueue is a RetryQueue on a Redis list, shared by every
// instance of the service.
type RedisRetryQueue struct {
	client redis.Cmdable
	key    string
}

// NewRedisRetryQueue creates a Redis-backed retry queue on key.
func NewRedisRetryQueue(client redis.Cmdable, key string) *RedisRetryQueue {
	if key == "" {
		key = DefaultRetryKey
	}
	return &RedisRetryQueue{client: client, key: key}
}

// Push appends contractorID.
func (q *RedisRetryQueue) Push(ctx context.Context, contractorID string) error {
	if err := q.client.LPush(ctx, q.key, contractorID).Err(); err != nil {
		return fmt.Errorf("redis lpush %q: %w", q.key, err)
	}
	return nil
}

// Pop removes the oldest id.
func (q *RedisRetryQueue) Pop(ctx context.Context) (string, bool, error) {
	id, err := q.client.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis rpop %q: %w", q.key, err)
	}
	return id, true, nil
}

// Len returns the number of waiting ids.
func (q *RedisRetryQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen %q: %w", q.key, err)
	}
	return n, nil
}

// HealthCheck pings Redis.
func (q *RedisRetryQueue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
