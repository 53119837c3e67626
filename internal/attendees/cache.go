package attendees

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/witcon/backend/internal/models"
)

const cacheKeyPrefix = "attendee:user:"

// RedisCache is a read-through cache for user_id lookups. Entries may be stale for up to ttl.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a lookup cache backed by client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(userID string) string { return cacheKeyPrefix + userID }

// Get returns the cached attendee, or ok=false on a miss.
func (c *RedisCache) Get(ctx context.Context, userID string) (*models.Attendee, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var a models.Attendee
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &a, true, nil
}

// Set stores a under its user_id.
func (c *RedisCache) Set(ctx context.Context, a *models.Attendee) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(a.UserID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the entry for userID.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("cache del: %w", err)
	}
	return nil
}
