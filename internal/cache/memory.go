// ABOUTME: In-process cache backend built on patrickmn/go-cache
// ABOUTME: Default backend for single-replica deployments and tests

package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Cache.
type Memory struct {
	c      *gocache.Cache
	prefix string
}

// NewMemory creates an in-process cache. A zero defaultTTL means two minutes.
func NewMemory(defaultTTL time.Duration, prefix string) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	return &Memory{c: gocache.New(defaultTTL, time.Minute), prefix: prefix}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.c.Get(m.prefix + key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return b, true, nil
}

// Set stores value; a zero ttl uses the default TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	m.c.Set(m.prefix+key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(m.prefix + key)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
