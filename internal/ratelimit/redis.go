package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares fixed-window counters between server instances.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter counts requests in redis under prefix:key:bucket.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	if limit < 0 {
		limit = 0
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow increments the current bucket and sets its expiry in one round trip.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if rl.limit == 0 {
		return false, nil
	}

	bucket := rl.now().UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, bucket)

	var incr *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, rl.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("rate limit counter %s: %w", redisKey, err)
	}

	return incr.Val() <= int64(rl.limit), nil
}

// Limits returns the configured request count and window.
func (rl *RedisLimiter) Limits() (int, time.Duration) {
	return rl.limit, rl.window
}
