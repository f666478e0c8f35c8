// Package cache is a best-effort key/value store with TTLs.
//
// Implementations fail open: a transport error on Get is reported as a miss,
// and errors from the write operations are returned only so callers can log
// them. Nothing stored here is authoritative.
//
// Fills are fenced by a per-key generation. A reader takes the generation
// before it consults the source of truth and passes it to Fill; Invalidate
// advances the generation, so a fill computed before an invalidation is
// dropped instead of overwriting it.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// generationTTL bounds how long a generation counter outlives its last
// invalidation. It only has to cover one in-flight lookup.
const generationTTL = time.Hour

type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Generation(ctx context.Context, key string) (int64, error)
	// Fill stores value if key's generation is still gen and reports
	// whether it did.
	Fill(ctx context.Context, key, value string, gen int64, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, key string) error
}

// GenerationKey is where the fill generation of key is kept.
func GenerationKey(key string) string {
	return key + ":gen"
}

// fillScript sets KEYS[1] only when KEYS[2] still holds ARGV[1].
// A missing generation counts as zero.
var fillScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

type RedisCache struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedis parses a redis:// URL and returns a cache backed by a pooled
// client. The connection is established lazily.
func NewRedis(url string, log zerolog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisFromClient(redis.NewClient(opts), log), nil
}

func NewRedisFromClient(client *redis.Client, log zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, log: log.With().Str("component", "cache").Logger()}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		return "", false
	}
	return val, true
}

func (c *RedisCache) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.client.Get(ctx, GenerationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) Fill(ctx context.Context, key, value string, gen int64, ttl time.Duration) (bool, error) {
	n, err := fillScript.Run(ctx, c.client,
		[]string{key, GenerationKey(key)},
		gen, value, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate advances the generation and deletes the value in one
// transaction.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	gen := GenerationKey(key)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gen)
		pipe.Expire(ctx, gen, generationTTL)
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Noop never stores anything. It is used when no cache server is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) (string, bool)        { return "", false }
func (Noop) Generation(context.Context, string) (int64, error) { return 0, nil }
func (Noop) Fill(context.Context, string, string, int64, time.Duration) (bool, error) {
	return false, nil
}
func (Noop) Invalidate(context.Context, string) error { return nil }
