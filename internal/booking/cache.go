package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSlotCache stores serialized slot pages with a short TTL. Misses and
// Redis errors both fall through to a live compute.
type RedisSlotCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisSlotCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisSlotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSlotCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *RedisSlotCache) Get(ctx context.Context, key string) ([]byte, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("slot cache read failed", "err", err)
		}
		return nil, false
	}
	return raw, true
}

func (c *RedisSlotCache) Set(ctx context.Context, key string, val []byte) {
	if err := c.rdb.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.Warn("slot cache write failed", "err", err)
	}
}
