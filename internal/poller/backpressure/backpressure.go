// Package backpressure tracks the number of poll fetch-groups currently
// in flight so the Poller can skip starting new work on a saturated tick
// (spec.md §4.E step 4). The in-process Counter is sufficient for a single
// replica; when multiple replicas share one tenant fleet, a Redis-backed
// Counter coordinates the same depth across all of them.
package backpressure

import (
	"context"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
)

// Counter tracks an in-flight fetch-group depth.
type Counter interface {
	// Add adjusts the depth by delta (positive to reserve, negative to
	// release) and returns the depth after the adjustment.
	Add(ctx context.Context, delta int) (int64, error)

	// Value returns the current depth without mutating it.
	Value(ctx context.Context) (int64, error)
}

// New returns a Redis-backed Counter when addr is non-empty, otherwise an
// in-process Counter. A process restart resets the in-process Counter to
// zero; the Redis-backed one keeps its value in Redis across restarts. The
// depth reflects fetch groups this process (or, with Redis, this process's
// fleet of replicas) currently has open.
func New(addr, key string) (Counter, error) {
	if addr == "" {
		return NewInProcess(), nil
	}
	return NewRedis(addr, key), nil
}

// InProcessCounter tracks depth with a single atomic int64. Safe for
// concurrent use by every worker goroutine in one process.
type InProcessCounter struct {
	depth int64
}

// NewInProcess constructs a zero-valued in-process Counter.
func NewInProcess() *InProcessCounter {
	return &InProcessCounter{}
}

func (c *InProcessCounter) Add(_ context.Context, delta int) (int64, error) {
	return atomic.AddInt64(&c.depth, int64(delta)), nil
}

func (c *InProcessCounter) Value(_ context.Context) (int64, error) {
	return atomic.LoadInt64(&c.depth), nil
}

// RedisCounter stores the depth in a single Redis key shared by every
// replica polling the same fleet, so a saturated tick on one replica
// backs off the whole fleet rather than only itself.
type RedisCounter struct {
	client *redis.Client
	key    string
}

// NewRedis constructs a RedisCounter against addr, keyed by key.
func NewRedis(addr, key string) *RedisCounter {
	return &RedisCounter{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
}

func (c *RedisCounter) Add(ctx context.Context, delta int) (int64, error) {
	return c.client.IncrBy(ctx, c.key, int64(delta)).Result()
}

func (c *RedisCounter) Value(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, c.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Close releases the underlying Redis connection pool, if any.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}
