package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"constitutional-gov/internal/logging"
	"constitutional-gov/pkg/types"
)

// RedisCache is an optional shared backend so multiple pipeline
// instances reuse each other's resolution patterns. Redis errors are
// treated as misses; the workflow falls back to full resolution.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    logging.Logger
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, logger logging.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{
		client:    client,
		keyPrefix: "gov:pattern:",
		logger:    logger.WithComponent("redis_cache"),
	}, nil
}

func (c *RedisCache) key(conflict *types.Conflict) string {
	return fmt.Sprintf("%s%016x", c.keyPrefix, Signature(conflict))
}

func (c *RedisCache) Get(ctx context.Context, conflict *types.Conflict) (*types.CorrectionResult, bool) {
	data, err := c.client.Get(ctx, c.key(conflict)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WarnContext(ctx, "redis get failed", "error", err.Error())
		}
		c.misses.Add(1)
		return nil, false
	}

	var result types.CorrectionResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.WarnContext(ctx, "corrupt cache entry, dropping", "key", c.key(conflict), "error", err.Error())
		_ = c.client.Del(ctx, c.key(conflict)).Err()
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &result, true
}

func (c *RedisCache) Put(ctx context.Context, conflict *types.Conflict, result *types.CorrectionResult, ttl time.Duration) {
	if result == nil || ttl <= 0 {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.WarnContext(ctx, "cache marshal failed", "error", err.Error())
		return
	}
	if err := c.client.Set(ctx, c.key(conflict), data, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "redis set failed", "error", err.Error())
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, conflict *types.Conflict) {
	if err := c.client.Del(ctx, c.key(conflict)).Err(); err != nil {
		c.logger.WarnContext(ctx, "redis del failed", "error", err.Error())
	}
}

// Stats reports hit/miss counters for this instance. Entries is not
// tracked for the shared backend.
func (c *RedisCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	st := Stats{Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
