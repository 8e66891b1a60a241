package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "loanbook:offline:"

// RedisCache keeps cache blobs in Redis so several gateway processes on one
// device share them.
type RedisCache struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisCache wraps client. Retention bounds how long stale blobs survive for
// offline use; zero keeps them until invalidated.
func NewRedisCache(client *redis.Client, retention time.Duration) *RedisCache {
	return &RedisCache{client: client, retention: retention}
}

// Get loads the blob stored for key.
func (c *RedisCache) Get(ctx context.Context, key string) (CacheEntry, bool, error) {
	if c == nil || c.client == nil {
		return CacheEntry{}, false, nil
	}
	payload, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, fmt.Errorf("offline: redis get %s: %w", key, err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return CacheEntry{}, false, fmt.Errorf("offline: decode %s: %w", key, err)
	}
	return entry, true, nil
}

// Set stores entry under key.
func (c *RedisCache) Set(ctx context.Context, key string, entry CacheEntry) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("offline: encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, raw, c.retention).Err(); err != nil {
		return fmt.Errorf("offline: redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes the blob for key.
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("offline: redis del %s: %w", key, err)
	}
	return nil
}
