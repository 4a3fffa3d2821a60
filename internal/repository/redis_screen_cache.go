package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Hennamaria07/movieBookingBackend/internal/domain"
	"github.com/Hennamaria07/movieBookingBackend/pkg/logger"
)

const screenCachePrefix = "screen:"

// ScreenCacheClient is the subset of the redis client used by the cache
type ScreenCacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedScreenDirectory is a cache-aside decorator over a ScreenDirectory.
// Redis failures fall through to the underlying directory.
type CachedScreenDirectory struct {
	next   ScreenDirectory
	client ScreenCacheClient
	ttl    time.Duration
	log    *logger.Logger
}

// NewCachedScreenDirectory wraps next with a Redis cache
func NewCachedScreenDirectory(next ScreenDirectory, client ScreenCacheClient, ttl time.Duration) *CachedScreenDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedScreenDirectory{next: next, client: client, ttl: ttl, log: logger.Get()}
}

// GetScreen returns the cached screen or loads and caches it
func (d *CachedScreenDirectory) GetScreen(ctx context.Context, screenID string) (*domain.Screen, error) {
	key := screenCachePrefix + screenID

	raw, err := d.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var screen domain.Screen
		if jerr := json.Unmarshal(raw, &screen); jerr == nil {
			return &screen, nil
		}
		d.client.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		d.log.Warn("screen cache read failed", zap.String("screen_id", screenID), zap.Error(err))
	}

	screen, err := d.next.GetScreen(ctx, screenID)
	if err != nil {
		return nil, err
	}

	if data, jerr := json.Marshal(screen); jerr == nil {
		if serr := d.client.Set(ctx, key, data, d.ttl).Err(); serr != nil {
			d.log.Warn("screen cache write failed", zap.String("screen_id", screenID), zap.Error(serr))
		}
	}
	return screen, nil
}
