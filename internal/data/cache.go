package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes.
const (
	// CacheKeyTier prefixes tiered storage entries: tier:{layer}:{storageID}
	CacheKeyTier = "tier"
	// CacheKeyCircuit prefixes breaker snapshots: circuit:{service}
	CacheKeyCircuit = "circuit"
)

// TTLCircuitSnapshot bounds how long a snapshot outlives its last state change.
const TTLCircuitSnapshot = 24 * time.Hour

// ErrCacheNotFound is returned when a cache key does not exist
var ErrCacheNotFound = errors.New("cache: key not found")

// CacheClient is a JSON value cache. Implementations must be safe for concurrent use.
type CacheClient interface {
	// Get deserializes the value at key into dest. Returns ErrCacheNotFound if key doesn't exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores value as JSON. A zero ttl keeps the key until deleted.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

type redisCache struct {
	client *redis.Client
}

// NewCacheClient creates a Redis-backed CacheClient. With a nil client every call fails.
func NewCacheClient(rdb *redis.Client) CacheClient {
	return &redisCache{
		client: rdb,
	}
}

var errNilRedis = errors.New("cache: redis client is nil")

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return errNilRedis
	}

	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("cache: failed to unmarshal value for key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return errNilRedis
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return errNilRedis
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete key %s: %w", key, err)
	}
	return nil
}

// BuildCacheKey joins a prefix and parts with colons.
//   - BuildCacheKey(CacheKeyCircuit, "user-service") -> "circuit:user-service"
//   - BuildCacheKey(CacheKeyTier, "cache", "analytics:u1:engagement") -> "tier:cache:analytics:u1:engagement"
func BuildCacheKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
