package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	nipsaKeyPrefix = "nipsa:user:"

	// StatusTTL bounds how long a cached status may disagree with the store
	// when another writer bypasses the cache.
	StatusTTL = 10 * time.Minute
)

const (
	statusFlagged   = "1"
	statusUnflagged = "0"
)

// ErrCacheMiss is returned when no status is cached for a user.
var ErrCacheMiss = errors.New("cache miss")

// GetStatus returns the cached flag status of userID, or ErrCacheMiss.
func (c *Cache) GetStatus(ctx context.Context, userID string) (bool, error) {
	v, err := c.client.Get(ctx, c.key(nipsaKeyPrefix, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, ErrCacheMiss
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	return parseStatus(v)
}

// SetStatus caches the flag status of userID. Unflagged users are cached
// too, so repeated 404 lookups do not hit the store.
func (c *Cache) SetStatus(ctx context.Context, userID string, flagged bool) error {
	if err := c.client.Set(ctx, c.key(nipsaKeyPrefix, userID), formatStatus(flagged), StatusTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache status: %w", err)
	}
	return nil
}

// FillStatus caches a status read from the store only if no status is
// cached yet, so it never overwrites a value written by a concurrent
// SetStatus. It reports whether the value was stored.
func (c *Cache) FillStatus(ctx context.Context, userID string, flagged bool) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(nipsaKeyPrefix, userID), formatStatus(flagged), StatusTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to fill status: %w", err)
	}
	return ok, nil
}

func formatStatus(flagged bool) string {
	if flagged {
		return statusFlagged
	}
	return statusUnflagged
}

func parseStatus(v string) (bool, error) {
	switch v {
	case statusFlagged:
		return true, nil
	case statusUnflagged:
		return false, nil
	default:
		return false, ErrCacheMiss
	}
}
