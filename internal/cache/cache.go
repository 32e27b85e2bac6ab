// ABOUTME: Byte-oriented cache abstraction with in-process and Redis backends
// ABOUTME: Used to share tenant feature flags across requests and gateway replicas

package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache stores opaque values under string keys with a TTL.
// A miss is reported as ok=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver     string // "memory" (default) or "redis"
	DefaultTTL time.Duration
	Prefix     string
	Redis      RedisConfig
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Open creates the cache described by cfg.
func Open(cfg Config) (Cache, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(cfg.DefaultTTL, cfg.Prefix), nil
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("cache: redis driver requires an address")
		}
		return NewRedis(cfg.Redis, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}
