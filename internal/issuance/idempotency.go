package issuance

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	dErrors "emblem/pkg/domain-errors"
)

// IdempotencyStore records which issue jobs have completed. Done is checked
// before handling and MarkDone recorded after success, so a job that fails
// mid-handling is redelivered and retried. The window between Issue and
// MarkDone is covered by the gateway's learner/template dedup.
type IdempotencyStore interface {
	Done(ctx context.Context, key string) (bool, error)
	MarkDone(ctx context.Context, key string) error
}

// InMemoryIdempotency is the test and single-process implementation.
type InMemoryIdempotency struct {
	mu   sync.Mutex
	done map[string]struct{}
}

// NewInMemoryIdempotency constructs an empty idempotency store.
func NewInMemoryIdempotency() *InMemoryIdempotency {
	return &InMemoryIdempotency{done: make(map[string]struct{})}
}

func (s *InMemoryIdempotency) Done(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.done[key]
	return ok, nil
}

func (s *InMemoryIdempotency) MarkDone(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[key] = struct{}{}
	return nil
}

// RedisIdempotency shares completion marks across consumer instances.
// Entries expire after the TTL; by then the assertion store's dedup covers
// any late redelivery.
type RedisIdempotency struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIdempotency constructs a Redis-backed idempotency store.
func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotency{client: client, prefix: "emblem:issuance:", ttl: ttl}
}

func (s *RedisIdempotency) Done(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeDownstream, "check idempotency key")
	}
	return n > 0, nil
}

func (s *RedisIdempotency) MarkDone(ctx context.Context, key string) error {
	if err := s.client.Set(ctx, s.prefix+key, 1, s.ttl).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDownstream, "mark idempotency key done")
	}
	return nil
}
