package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jailtonjunior94/streamflow/internal/observability"
)

// DefaultCacheTTL is how long a cached analytics result stays fresh.
const DefaultCacheTTL = 60 * time.Second

// Cache is a Redis-backed cache-aside layer for analytics query results.
// A nil Cache is valid and disables caching, so callers never branch on
// whether Redis is configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	o11y   observability.Observability

	hits   observability.Counter
	misses observability.Counter
}

// NewCache connects to Redis. An empty URL returns a nil cache.
func NewCache(url string, o11y observability.Observability) (*Cache, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	return &Cache{
		client: redis.NewClient(opts),
		ttl:    DefaultCacheTTL,
		o11y:   o11y,
		hits: o11y.Metrics().Counter(
			"analytics_cache_hits_total",
			"Analytics cache lookups served from Redis.",
		),
		misses: o11y.Metrics().Counter(
			"analytics_cache_misses_total",
			"Analytics cache lookups that fell through to SQL.",
		),
	}, nil
}

// Get loads a cached result into out. Any Redis failure reads as a miss so
// the caller falls through to SQL.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if c == nil {
		return false
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.o11y.Logger().Warn(ctx, "analytics cache read failed",
				observability.String("key", key),
				observability.Error(err),
			)
		}
		c.misses.Increment()
		return false
	}

	if err := json.Unmarshal(payload, out); err != nil {
		c.misses.Increment()
		return false
	}

	c.hits.Increment()
	return true
}

// Set stores a result. Failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.o11y.Logger().Warn(ctx, "analytics cache write failed",
			observability.String("key", key),
			observability.Error(err),
		)
	}
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
