package checkout

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotency implements Idempotency with a SETNX key per
// payment, expiring after a day.  It exists purely to absorb webhook
// retry storms cheaply; losing Redis only costs the fast path.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotency wraps a Redis client.  A nil client is allowed
// and yields a nil *RedisIdempotency, which callers pass through as a
// disabled Idempotency.
func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	if client == nil {
		return nil
	}
	return &RedisIdempotency{client: client, ttl: 24 * time.Hour}
}

// SetIdempotency returns true the first time a key is seen.
func (r *RedisIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, key, 1, r.ttl).Result()
}
