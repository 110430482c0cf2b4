package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces idempotency entries in a shared Redis.
const redisKeyPrefix = "webhook:idempotency:"

// RedisIdempotencyStore shares the idempotency cache across gateway
// replicas. Expiry is delegated to Redis key TTLs.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
}

// NewRedisIdempotencyStore wraps an existing Redis client.
func NewRedisIdempotencyStore(client redis.UniversalClient) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Get returns the cached result for key, or nil when absent or expired.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*ExecutionResult, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency get %q: %w", key, err)
	}

	var result ExecutionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("idempotency decode %q: %w", key, err)
	}
	return &result, nil
}

// Set caches result under key for ttl.
func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, result *ExecutionResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency encode %q: %w", key, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency set %q: %w", key, err)
	}
	return nil
}
