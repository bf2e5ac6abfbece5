// Package ratelimit bounds per-client request rates for the HTTP API.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"duet/internal/constants"
	"duet/internal/models"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request from key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limits() (int, time.Duration)
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type builder func(limit int, window time.Duration) Limiter

// New builds the limiter selected by cfg.Backend. The returned close function releases
// backend connections.
func New(ctx context.Context, cfg models.RateLimitConfig, redisCfg models.RedisConfig) (Limiter, func() error, error) {
	build, closeFn, err := newBuilder(ctx, cfg.Backend, redisCfg)
	if err != nil {
		return nil, nil, err
	}
	limit, window := limits(cfg)
	return build(limit, window), closeFn, nil
}

func limits(cfg models.RateLimitConfig) (int, time.Duration) {
	limit := cfg.RequestsPerWindow
	if limit == 0 {
		limit = constants.DefaultRateLimitRequests
	}
	window := time.Duration(cfg.WindowSec) * time.Second
	if window <= 0 {
		window = constants.DefaultRateLimitWindowSec * time.Second
	}
	return limit, window
}

func newBuilder(ctx context.Context, backend string, redisCfg models.RedisConfig) (builder, func() error, error) {
	switch backend {
	case "", BackendMemory:
		return func(limit int, window time.Duration) Limiter {
			return NewRateLimiter(limit, window)
		}, func() error { return nil }, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", redisCfg.Addr, err)
		}
		prefix := redisCfg.KeyPrefix
		if prefix == "" {
			prefix = constants.DefaultRedisKeyPrefix
		}
		return func(limit int, window time.Duration) Limiter {
			return NewRedisLimiter(client, prefix, limit, window)
		}, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", backend)
	}
}

// Reloadable swaps its limiter when the configured numbers change. The backend itself
// is fixed at construction.
type Reloadable struct {
	mu      sync.RWMutex
	current Limiter
	build   builder
}

// NewReloadable is New with support for Update.
func NewReloadable(ctx context.Context, cfg models.RateLimitConfig, redisCfg models.RedisConfig) (*Reloadable, func() error, error) {
	build, closeFn, err := newBuilder(ctx, cfg.Backend, redisCfg)
	if err != nil {
		return nil, nil, err
	}
	limit, window := limits(cfg)
	return &Reloadable{current: build(limit, window), build: build}, closeFn, nil
}

// Update replaces the limiter when limit or window changed and reports whether it did.
// In-memory counters start over after a change.
func (r *Reloadable) Update(cfg models.RateLimitConfig) bool {
	limit, window := limits(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, w := r.current.Limits(); l == limit && w == window {
		return false
	}
	r.current = r.build(limit, window)
	return true
}

func (r *Reloadable) limiter() Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Reloadable) Allow(ctx context.Context, key string) (bool, error) {
	return r.limiter().Allow(ctx, key)
}

func (r *Reloadable) Limits() (int, time.Duration) {
	return r.limiter().Limits()
}
