package servicetest

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCacheDown = errors.New("cache unavailable")

// Cache is an in-memory cache.Cache. While Down is set it behaves like an
// unreachable server: reads miss and writes fail.
type Cache struct {
	mu      sync.Mutex
	entries map[string]string
	gens    map[string]int64
	down    bool

	Gets, Fills, Invalidations int
}

func NewCache() *Cache {
	return &Cache{entries: map[string]string{}, gens: map[string]int64{}}
}

func (c *Cache) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// Peek reads an entry without counting as a Get.
func (c *Cache) Peek(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gets++
	if c.down {
		return "", false
	}
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache) Generation(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, ErrCacheDown
	}
	return c.gens[key], nil
}

func (c *Cache) Fill(_ context.Context, key, value string, gen int64, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Fills++
	if c.down {
		return false, ErrCacheDown
	}
	if c.gens[key] != gen {
		return false, nil
	}
	c.entries[key] = value
	return true, nil
}

func (c *Cache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Invalidations++
	if c.down {
		return ErrCacheDown
	}
	c.gens[key]++
	delete(c.entries, key)
	return nil
}
