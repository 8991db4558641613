package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
)

// CachedSource is a read-through Redis cache in front of a consent
// source. Cache failures are soft: on any Redis error the lookup falls
// through to the underlying source.
type CachedSource struct {
	source Source
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedSource wraps a source with a Redis read-through cache.
func NewCachedSource(source Source, cfg config.RedisConfig, ttl time.Duration, log *logger.Logger) (*CachedSource, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = cfg.DefaultTTL
	}

	log.Info("Consent cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Duration("ttl", ttl),
	)

	return &CachedSource{
		source: source,
		client: client,
		ttl:    ttl,
		prefix: cfg.KeyPrefix,
		logger: log.WithComponent("consent_cache"),
	}, nil
}

// Records returns cached records when fresh, otherwise consults the
// underlying source and caches the result.
func (c *CachedSource) Records(ctx context.Context, subjectID string) ([]Record, error) {
	key := c.key(subjectID)

	cached, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var records []Record
		if jsonErr := json.Unmarshal([]byte(cached), &records); jsonErr == nil {
			c.hits.Add(1)
			return records, nil
		}
		// Corrupted entry, drop it and refetch.
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.Warn("Consent cache lookup failed", zap.Error(err))
	}

	c.misses.Add(1)
	records, err := c.source.Records(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(records); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
			c.logger.Warn("Consent cache store failed", zap.Error(setErr))
		}
	}
	return records, nil
}

// Invalidate removes a subject's cached records, used after consent
// dataset loads.
func (c *CachedSource) Invalidate(ctx context.Context, subjectID string) error {
	return c.client.Del(ctx, c.key(subjectID)).Err()
}

// Stats returns cache hit and miss counters.
func (c *CachedSource) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close logs the cache counters and closes the Redis connection.
func (c *CachedSource) Close() error {
	hits, misses := c.Stats()
	c.logger.Info("Consent cache closed",
		zap.Int64("hits", hits),
		zap.Int64("misses", misses),
	)
	return c.client.Close()
}

func (c *CachedSource) key(subjectID string) string {
	return c.prefix + ":consent:" + subjectID
}

// maskRedisURL masks credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			scheme := parts[0]
			if idx := strings.LastIndex(scheme, ":"); idx > strings.Index(scheme, "//") {
				scheme = scheme[:idx+1] + "***"
			}
			return scheme + "@" + parts[1]
		}
	}
	return url
}
