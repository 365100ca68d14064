package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/access-engine/go-core/pkg/types"
)

// RedisCache implements Cache using Redis as a distributed decision
// cache, so multiple service instances observe the same cached
// decisions. Decisions are stored as their integer codes.
type RedisCache struct {
	client redis.UniversalClient
	config *RedisConfig
	hits   uint64
	misses uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisCache creates a new Redis-backed decision cache
func NewRedisCache(config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		DialTimeout:  config.DialTimeout,
		TLSConfig:    config.TLS,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err := client.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		cancel()
		client.Close()
		return nil, ErrConnectionFailed(fmt.Errorf("ping failed: %w", err))
	}

	return &RedisCache{
		client: client,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// NewRedisCacheFromClient wraps an existing client, mainly for tests.
func NewRedisCacheFromClient(client redis.UniversalClient, config *RedisConfig) *RedisCache {
	if config == nil {
		config = DefaultRedisConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisCache{
		client: client,
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Get retrieves a decision from the cache
func (c *RedisCache) Get(key string) (types.Decision, bool) {
	prefixedKey := c.config.KeyPrefix + key

	value, err := c.client.Get(c.ctx, prefixedKey).Int()
	if err != nil {
		// redis.Nil and transport errors are both treated as a miss.
		atomic.AddUint64(&c.misses, 1)
		return types.DecisionDefault, false
	}

	atomic.AddUint64(&c.hits, 1)
	return types.Decision(value), true
}

// Set adds or updates a decision in the cache
func (c *RedisCache) Set(key string, decision types.Decision) {
	prefixedKey := c.config.KeyPrefix + key
	// Errors are non-fatal: the next Get is a miss and falls through to
	// the engine.
	_ = c.client.Set(c.ctx, prefixedKey, int(decision), c.config.TTL).Err()
}

// Delete removes a key from the cache
func (c *RedisCache) Delete(key string) {
	prefixedKey := c.config.KeyPrefix + key
	c.client.Del(c.ctx, prefixedKey)
}

// Clear removes all entries matching the key prefix
func (c *RedisCache) Clear() {
	pattern := c.config.KeyPrefix + "*"
	iter := c.client.Scan(c.ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(c.ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.client.Del(c.ctx, keys...)
	}
}

// Stats returns cache statistics
func (c *RedisCache) Stats() Stats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	size := 0
	if dbSize, err := c.client.DBSize(c.ctx).Result(); err == nil {
		size = int(dbSize)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.cancel()
	return c.client.Close()
}
