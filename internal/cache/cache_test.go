// ABOUTME: Tests for the cache backends
// ABOUTME: Memory is always tested; Redis runs when PASSKEY_TEST_REDIS_ADDR is set

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseCache(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.Ping(ctx))
}

func TestMemory(t *testing.T) {
	c := NewMemory(0, "test:")
	defer c.Close()
	exerciseCache(t, c)
}

func TestMemory_Expiry(t *testing.T) {
	c := NewMemory(time.Minute, "")
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_PrefixIsolation(t *testing.T) {
	a := NewMemory(0, "a:")
	b := NewMemory(0, "b:")
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", []byte("1"), 0))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("PASSKEY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PASSKEY_TEST_REDIS_ADDR not set")
	}
	c := NewRedis(RedisConfig{Addr: addr}, "passkey-test:")
	defer c.Close()
	exerciseCache(t, c)
}

func TestOpen(t *testing.T) {
	c, err := Open(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = Open(Config{Driver: "redis", Redis: RedisConfig{Addr: "localhost:6379"}})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, c)
	require.NoError(t, c.Close())

	_, err = Open(Config{Driver: "redis"})
	assert.Error(t, err)

	_, err = Open(Config{Driver: "memcached"})
	assert.Error(t, err)
}
