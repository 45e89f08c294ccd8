package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/parkpulse/parkpulse/pkg/logger"
)

// Cache fronts read endpoints whose payloads are expensive to assemble.
// Read-through only: a cache failure degrades to a store read, never an
// error surfaced to the client.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{})
}

// NopCache is used when no redis address is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string, interface{}) bool { return false }
func (NopCache) Set(context.Context, string, interface{})      {}

// RedisCache stores JSON payloads under versioned keys with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    logger.Logger
}

func NewRedisCache(addr, password string, db int, ttl time.Duration, log logger.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client, ttl: ttl, log: log.WithField("component", "cache")}
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Debugf("cache get %s: %v", key, err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.log.Warnf("cache entry %s corrupt: %v", key, err)
		return false
	}
	return true
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Debugf("cache set %s: %v", key, err)
	}
}

// Cache key formats. Versioned so a payload shape change invalidates old
// entries by construction.
const (
	dailyCacheKeyFormat   = "daily_v1:%s_%s"
	monthlyCacheKeyFormat = "monthly_v1:%s_%04d-%02d"
)

func dailyCacheKey(attractionID, date string) string {
	return fmt.Sprintf(dailyCacheKeyFormat, attractionID, date)
}

func monthlyCacheKey(attractionID string, year, month int) string {
	return fmt.Sprintf(monthlyCacheKeyFormat, attractionID, year, month)
}
