package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annotator/nipsa/internal/model"
)

const (
	authCachePrefix = "auth:ctx:"
	authCacheTTL    = 5 * time.Minute
)

// GetAuthContext retrieves a cached auth context by cache key.
// Returns nil on a miss or a corrupted entry.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, c.key(authCachePrefix, cacheKey)).Bytes()
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var cached model.AuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &cached, nil
}

// SetAuthContext caches a verified auth context.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}
	return c.client.Set(ctx, c.key(authCachePrefix, cacheKey), data, authCacheTTL).Err()
}

// DeleteAuthContext removes a cached auth context.
func (c *Cache) DeleteAuthContext(ctx context.Context, cacheKey string) error {
	return c.client.Del(ctx, c.key(authCachePrefix, cacheKey)).Err()
}
