// Package cache implements the cache-aside read layer: JSON entries keyed
// deterministically, TTL from creation, deletable by anyone to force a miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Cache wraps Redis with JSON serialization for cached entities.
type Cache struct {
	rdb *rd.Client
}

func New(rdb *rd.Client) *Cache {
	return &Cache{rdb: rdb}
}

// GetJSON loads key into v. hit is false on a miss; errors are returned so
// callers can degrade to the system of record.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) (hit bool, err error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == rd.Nil {
			return false, nil
		}
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		// A corrupt entry is treated as a miss; the read path will repopulate.
		return false, nil
	}
	return true, nil
}

// SetJSON stores v under key with a TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys to force a future miss.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}
