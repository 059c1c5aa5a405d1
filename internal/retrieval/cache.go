package retrieval

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/conductor/config"
)

// Cache stores complete rankings keyed by query and ranking parameters.
type Cache interface {
	Get(ctx context.Context, key string) ([]Hit, bool)
	Set(ctx context.Context, key string, hits []Hit)
}

// NewCache selects the ranking cache backend: Redis when an endpoint is
// configured under storage.redis, otherwise the in-process TTL cache.
func NewCache(cfg config.RetrievalConfig, redisCfg config.RedisConfig, logger *log.Logger) Cache {
	if redisCfg.Enabled() {
		return NewRedisCache(redisCfg, cfg.CacheTTL, logger)
	}
	return NewMemoryCache(cfg.CacheTTL, cfg.CacheCapacity)
}

type cacheEntry struct {
	hits     []Hit
	storedAt time.Time
}

// MemoryCache is an in-process TTL cache with a capacity bound. Expired
// entries are evicted lazily on read; capacity pressure evicts the oldest
// entry first.
type MemoryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]cacheEntry
	now      func() time.Time
}

// NewMemoryCache builds a cache with the given TTL and entry capacity.
func NewMemoryCache(ttl time.Duration, capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  map[string]cacheEntry{},
		now:      time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]Hit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.hits, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, hits []Hit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[key] = cacheEntry{hits: hits, storedAt: c.now()}
}

// evictOldest removes the entry with the earliest store time. Caller holds
// the lock.
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.storedAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len reports the number of live entries, counting expired ones not yet
// evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
