package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// ReadingCache is the minimal cache behavior CachedClient needs. The Redis
// cache repository in internal/data satisfies it.
type ReadingCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedClient wraps a Fetcher with a short-TTL reading cache so a batch of
// schedules sharing a coordinate costs one provider call per cycle.
// Cache failures degrade to a live fetch, never to a dispatch failure.
type CachedClient struct {
	fetcher Fetcher
	cache   ReadingCache
	ttl     time.Duration
	logger  *slog.Logger
}

// CachedClientOptions groups dependencies for NewCachedClient.
type CachedClientOptions struct {
	Fetcher Fetcher
	Cache   ReadingCache
	TTL     time.Duration
	Logger  *slog.Logger
}

// NewCachedClient constructs a CachedClient.
func NewCachedClient(opts CachedClientOptions) *CachedClient {
	if opts.Fetcher == nil {
		panic("weather fetcher is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedClient{
		fetcher: opts.Fetcher,
		cache:   opts.Cache,
		ttl:     ttl,
		logger:  logger,
	}
}

// Current returns a cached reading for the coordinate when one is fresh,
// otherwise fetches live and caches the result best-effort.
func (c *CachedClient) Current(ctx context.Context, coord Coordinate) (*Reading, error) {
	key := cacheKey(coord)

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, key); err != nil {
			c.logger.WarnContext(ctx, "weather cache get failed", "error", err, "key", key)
		} else if len(cached) > 0 {
			var reading Reading
			if unmarshalErr := json.Unmarshal(cached, &reading); unmarshalErr == nil {
				return &reading, nil
			}
			// Unreadable cache entries fall through to a live fetch.
		}
	}

	reading, err := c.fetcher.Current(ctx, coord)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if encoded, marshalErr := json.Marshal(reading); marshalErr == nil {
			if setErr := c.cache.Set(ctx, key, encoded, c.ttl); setErr != nil {
				c.logger.WarnContext(ctx, "weather cache set failed", "error", setErr, "key", key)
			}
		}
	}

	return reading, nil
}

// cacheKey rounds the coordinate to ~100m so near-identical points share an
// entry.
func cacheKey(coord Coordinate) string {
	return fmt.Sprintf("weather:current:%.3f:%.3f", coord.Latitude, coord.Longitude)
}
