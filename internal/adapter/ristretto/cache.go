// Package ristretto implements the cache port using dgraph-io/ristretto as L1 in-process cache.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/StreamForge/internal/config"
)

// Cache wraps a ristretto cache as an in-process L1 cache.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a ristretto-backed cache sized by cfg.L1MaxSizeMB.
func New(cfg config.Cache) (*Cache, error) {
	maxCost := cfg.L1MaxSizeMB << 20
	if maxCost <= 0 {
		maxCost = 1 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Tombstones and idempotency records are a few hundred bytes each.
		NumCounters: maxCost / 256 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value and waits for the write buffer to drain so the entry is
// visible to the next Get. A non-positive ttl never expires.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if !c.c.SetWithTTL(key, value, int64(len(value)), ttl) {
		return fmt.Errorf("ristretto: set %q dropped", key)
	}
	c.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
