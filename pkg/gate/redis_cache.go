package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores satisfied membership lookups for a short TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache returns nil when client is nil or ttl is not positive, which
// disables caching.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &RedisCache{client: client, prefix: "kinobot:gate", ttl: ttl}
}

func (c *RedisCache) key(handle string, userID int64) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, strings.ToLower(strings.TrimLeft(handle, "@")), userID)
}

func (c *RedisCache) Satisfied(ctx context.Context, handle string, userID int64) bool {
	if c == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	n, err := c.client.Exists(ctx, c.key(handle, userID)).Result()
	return err == nil && n > 0
}

func (c *RedisCache) MarkSatisfied(ctx context.Context, handle string, userID int64) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = c.client.Set(ctx, c.key(handle, userID), "1", c.ttl).Err()
}
