// Package cache is a thin Redis layer for values that are rate-limited
// to refetch, mainly mid prices and account state. With no Redis address
// configured every operation is a no-op and the bot runs uncached.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"perp-agent/logger"
)

// TTLs for the well-known keys.
const (
	PriceTTL        = 30 * time.Second
	AccountStateTTL = 60 * time.Second
)

// AccountStateKey holds the most recent account snapshot.
const AccountStateKey = "account:state"

// PriceKey returns the cache key for one coin's mid price.
func PriceKey(coin string) string {
	return "price:" + coin
}

// Cache wraps a Redis client. A Cache without a client is valid and
// skips every operation.
type Cache struct {
	client *redis.Client
	log    zerolog.Logger
}

// New connects to Redis at addr. An empty addr, or a failed ping,
// returns a disabled cache rather than an error: the bot works without
// Redis, just with more API calls.
func New(addr, password string, db int) *Cache {
	c := &Cache{log: logger.Component("cache")}
	if addr == "" {
		return c
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.log.Warn().Err(err).Str("addr", addr).Msg("Redis unavailable, caching disabled")
		client.Close()
		return c
	}

	c.client = client
	c.log.Info().Str("addr", addr).Msg("Redis cache connected")
	return c
}

// Enabled reports whether a Redis connection is live.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get unmarshals the cached JSON at key into dest. Returns false on a
// miss, a disabled cache, or any Redis error.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if !c.Enabled() {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Str("key", key).Msg("cache get failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache entry corrupt")
		return false
	}
	return true
}

// Set stores val as JSON at key with the given TTL. Failures are logged
// and swallowed.
func (c *Cache) Set(ctx context.Context, key string, val any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Delete removes keys, typically after a trade invalidates the cached
// account state.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Debug().Err(err).Strs("keys", keys).Msg("cache delete failed")
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
