package cache_test

import (
	"context"
	"testing"
	"time"

	"notehub/internal/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedis("redis://"+mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func fill(t *testing.T, c cache.Cache, key, value string, ttl time.Duration) bool {
	t.Helper()
	gen, err := c.Generation(context.Background(), key)
	require.NoError(t, err)
	stored, err := c.Fill(context.Background(), key, value, gen, ttl)
	require.NoError(t, err)
	return stored
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newCache(t)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	require.True(t, fill(t, c, "k", "1", time.Minute))
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, c.Invalidate(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	require.True(t, fill(t, c, "k", "0", 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("k"))

	mr.FastForward(31 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCacheFillAfterInvalidateIsDropped(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)

	gen, err := c.Generation(ctx, "k")
	require.NoError(t, err)
	assert.Zero(t, gen)

	require.NoError(t, c.Invalidate(ctx, "k"))
	assert.True(t, mr.TTL(cache.GenerationKey("k")) > 0)

	stored, err := c.Fill(ctx, "k", "0", gen, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("k"))

	gen, err = c.Generation(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	stored, err = c.Fill(ctx, "k", "1", gen, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
	v, ok := c.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestRedisCacheFailsOpen(t *testing.T) {
	ctx := context.Background()
	c, mr := newCache(t)
	require.True(t, fill(t, c, "k", "1", time.Minute))

	mr.Close()

	v, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Empty(t, v)
	_, err := c.Generation(ctx, "k")
	assert.Error(t, err)
	_, err = c.Fill(ctx, "k", "1", 0, time.Minute)
	assert.Error(t, err)
	assert.Error(t, c.Invalidate(ctx, "k"))
}

func TestRedisCacheServerError(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisFromClient(client, zerolog.Nop())

	mr.SetError("LOADING dataset in memory")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	mr.SetError("")
	require.NoError(t, c.Ping(ctx))
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c cache.Cache = cache.Noop{}

	assert.False(t, fill(t, c, "k", "1", time.Minute))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx, "k"))
}
