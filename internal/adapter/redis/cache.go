// Package redis implements the cache port on Redis as an alternative shared
// tier of the context snapshot cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Strob0t/GroundControl/internal/config"
)

// Cache wraps a Redis client as an L2 cache with per-key TTLs.
type Cache struct {
	rdb *goredis.Client
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, cfg config.Redis) (*Cache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Cache{rdb: rdb}, nil
}

// New wraps an existing client.
func New(rdb *goredis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Get retrieves a value from Redis.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// Set stores a value with the given TTL. A non-positive TTL never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Add claims key with SET NX. A non-positive TTL never expires.
func (c *Cache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Delete removes a value from Redis.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
