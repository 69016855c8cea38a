// Package eventcache provides Redis-backed deduplication for webhook
// deliveries. HubSpot retries whole batches, so already-applied events must
// be recognizable across process restarts.
package eventcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Events older than the retention window cannot be retried by HubSpot, so
// their dedup keys can expire.
const defaultTTL = 24 * time.Hour

// RedisCache remembers processed event ids with a TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client), nil
}

// NewRedisCacheWithClient wraps an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "webhook_event:",
		ttl:    defaultTTL,
	}
}

func (c *RedisCache) key(eventID int64) string {
	return fmt.Sprintf("%s%d", c.prefix, eventID)
}

// MarkSeen records an event id if it has not been seen inside the TTL
// window. Returns true when this is the first sighting.
func (c *RedisCache) MarkSeen(ctx context.Context, eventID int64) (bool, error) {
	first, err := c.client.SetNX(ctx, c.key(eventID), 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark event seen: %w", err)
	}
	return first, nil
}

// Forget drops an event id so a failed apply can be retried.
func (c *RedisCache) Forget(ctx context.Context, eventID int64) error {
	if err := c.client.Del(ctx, c.key(eventID)).Err(); err != nil {
		return fmt.Errorf("forget event: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
