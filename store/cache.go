package store

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/US-Department-of-the-Treasury/plane-gov-sub004/domain"
)

// FilterCache is the Redis-backed local half of filter persistence.
// Reads fall back to the remote API when the cache misses; writes keep
// the cache warm so a reload starts from the user's last state without
// a round trip. A nil Redis client degrades to a no-op cache.
type FilterCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewFilterCache creates a cache with the given TTL. A non-positive TTL
// disables writes.
func NewFilterCache(client *redis.Client, ttl time.Duration) *FilterCache {
	if ttl < 0 {
		ttl = 0
	}
	return &FilterCache{redis: client, ttl: ttl}
}

// Get loads the cached filter document for a context key. Corrupt
// entries are evicted and reported as a miss.
func (c *FilterCache) Get(ctx context.Context, contextKey string) (domain.FilterDocument, bool) {
	if c == nil || c.redis == nil {
		return domain.FilterDocument{}, false
	}
	data, err := c.redis.Get(ctx, filtersCacheKey(contextKey)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the remote API without failing.
			_ = c.redis.Del(ctx, filtersCacheKey(contextKey)).Err()
		}
		return domain.FilterDocument{}, false
	}
	var doc domain.FilterDocument
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil {
		_ = c.redis.Del(ctx, filtersCacheKey(contextKey)).Err()
		return domain.FilterDocument{}, false
	}
	return doc, true
}

// Set stores the filter document for a context key.
func (c *FilterCache) Set(ctx context.Context, contextKey string, doc domain.FilterDocument) {
	if c == nil || c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.ConfigStd.Marshal(doc)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, filtersCacheKey(contextKey), data, c.ttl).Err()
}

// Evict drops the cached document for a context key.
func (c *FilterCache) Evict(ctx context.Context, contextKey string) {
	if c == nil || c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, filtersCacheKey(contextKey)).Err()
}

func filtersCacheKey(contextKey string) string {
	return "filters:" + contextKey
}
