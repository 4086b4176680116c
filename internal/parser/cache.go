package parser

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "github.com/JackTn/azure-sdk-usage-agent/internal/errors"
	"github.com/JackTn/azure-sdk-usage-agent/internal/query"
)

// DefaultCacheTTL is how long a parsed question stays cached
const DefaultCacheTTL = 5 * time.Minute

// Cache stores parse results keyed by question
type Cache interface {
	// Get returns (nil, nil) on a miss
	Get(ctx context.Context, question string) (*query.ParsedQuerySpec, error)
	Set(ctx context.Context, question string, spec *query.ParsedQuerySpec) error
}

// RedisCache is a Cache backed by Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache; ttl <= 0 uses DefaultCacheTTL
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// CacheKey normalizes question into its Redis key
func CacheKey(question string) string {
	return "parse:" + strings.ToLower(strings.TrimSpace(question))
}

// Get implements Cache
func (c *RedisCache) Get(ctx context.Context, question string) (*query.ParsedQuerySpec, error) {
	cached, err := c.client.Get(ctx, CacheKey(question)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCacheRead, "Failed to read parse cache")
	}

	var spec query.ParsedQuerySpec
	if err := json.Unmarshal([]byte(cached), &spec); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeCacheRead, "Cached parse result is corrupt")
	}
	return &spec, nil
}

// Set implements Cache
func (c *RedisCache) Set(ctx context.Context, question string, spec *query.ParsedQuerySpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheWrite, "Failed to encode parse result")
	}
	if err := c.client.Set(ctx, CacheKey(question), data, c.ttl).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheWrite, "Failed to write parse cache")
	}
	return nil
}
