package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/conductor/config"
)

// RedisCache shares rankings across processes. Serialization errors and
// Redis outages degrade to cache misses; retrieval itself never fails
// because the cache is down.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

// NewRedisCache connects a ranking cache to the configured Redis endpoint.
func NewRedisCache(cfg config.RedisConfig, ttl time.Duration, logger *log.Logger) *RedisCache {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisCache{client: client, ttl: ttl, prefix: "retrieval:", logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]Hit, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Printf("[retrieval] redis get: %v", err)
		}
		return nil, false
	}
	var hits []Hit
	if err := json.Unmarshal(data, &hits); err != nil {
		c.logger.Printf("[retrieval] redis decode: %v", err)
		return nil, false
	}
	return hits, true
}

func (c *RedisCache) Set(ctx context.Context, key string, hits []Hit) {
	data, err := json.Marshal(hits)
	if err != nil {
		c.logger.Printf("[retrieval] redis encode: %v", err)
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Printf("[retrieval] redis set: %v", err)
	}
}

// Close releases the underlying connection.
func (c *RedisCache) Close() error { return c.client.Close() }

var _ Cache = (*RedisCache)(nil)
