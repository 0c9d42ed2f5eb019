// Package ratelimit implements fixed-window admission control keyed by
// request source.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

type RateLimiter interface {
	// Allow records one hit for key and reports whether it is within quota.
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// Config selects and sizes a limiter.
type Config struct {
	Backend       string
	Max           int
	Window        time.Duration
	IdleTimeout   time.Duration
	PurgeInterval time.Duration
}

// New builds the limiter for cfg.Backend. The redis backend shares client
// and enforces one quota across every ingest instance.
func New(cfg Config, client *redis.Client) (RateLimiter, error) {
	switch cfg.Backend {
	case BackendNone:
		return &NoOpRateLimiter{}, nil
	case BackendMemory, "":
		return NewMemoryLimiter(cfg.Max, cfg.Window, cfg.IdleTimeout, cfg.PurgeInterval), nil
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("ratelimit: redis backend needs a client")
		}
		return NewRedisRateLimiter(client, cfg.Max, cfg.Window), nil
	}
	return nil, fmt.Errorf("ratelimit: unknown backend %q", cfg.Backend)
}

// NoOpRateLimiter always allows requests (for testing or disabled rate limiting)
type NoOpRateLimiter struct{}

func (n *NoOpRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (n *NoOpRateLimiter) Close() error {
	return nil
}
