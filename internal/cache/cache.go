// Package cache memoizes finished analysis results behind digest keys. A
// fast in-process tier fronts an optional Redis tier; the Redis tier sits
// behind a circuit breaker, and any transport failure or open breaker is
// treated as a miss so callers fall back to recomputing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"

	"github.com/driftline/compex/internal/metrics"
)

// DefaultTTL bounds how long a cached result stays valid.
const DefaultTTL = 15 * time.Minute

// Key digests a request into a stable cache key. Identical requests always
// produce the same key; the kind keeps simulate and design results apart.
func Key(kind string, req any) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("cache key for %s: %w", kind, err)
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("compex:%s:%x", kind, sum), nil
}

// Options configures a Cache. A nil Redis client leaves the cache
// memory-only; a nil Metrics registry disables recording.
type Options struct {
	Redis   *redis.Client
	TTL     time.Duration
	Metrics *metrics.Registry
}

// Cache is the two-tier result cache.
type Cache struct {
	mem     *memoryTier
	redis   *redis.Client
	breaker *cb.CircuitBreaker
	metrics *metrics.Registry
	ttl     time.Duration
}

// New builds a Cache. The breaker trips on three consecutive Redis failures,
// or on a failure rate above 5% once twenty calls have been seen in the
// rolling window.
func New(opts Options) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	st := cb.Settings{Name: "result-cache-redis"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		if counts.Requests < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
	}
	return &Cache{
		mem:     newMemoryTier(),
		redis:   opts.Redis,
		breaker: cb.NewCircuitBreaker(st),
		metrics: opts.Metrics,
		ttl:     ttl,
	}
}

// Get returns the cached bytes for key. One hit or miss is recorded per
// call, tagged with the tier that answered.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if data, ok := c.mem.get(key); ok {
		c.recordHit(metrics.TierMemory)
		return data, true
	}
	if c.redis == nil {
		c.recordMiss(metrics.TierMemory)
		return nil, false
	}

	res, err := c.breaker.Execute(func() (any, error) {
		val, err := c.redis.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []byte(val), nil
	})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis cache read degraded to miss")
		c.recordMiss(metrics.TierRedis)
		return nil, false
	}
	data, _ := res.([]byte)
	if data == nil {
		c.recordMiss(metrics.TierRedis)
		return nil, false
	}

	// Promote so the next read is served in process.
	c.mem.set(key, data, c.ttl)
	c.recordHit(metrics.TierRedis)
	return data, true
}

// Set stores value under key in every available tier.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	c.mem.set(key, value, c.ttl)
	if c.redis == nil {
		return
	}
	if _, err := c.breaker.Execute(func() (any, error) {
		return nil, c.redis.Set(ctx, key, value, c.ttl).Err()
	}); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis cache write skipped")
	}
}

// GetJSON unmarshals the cached value for key into dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Cached payload failed to decode, treating as miss")
		return false
	}
	return true
}

// SetJSON marshals v and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode for %s: %w", key, err)
	}
	c.Set(ctx, key, data)
	return nil
}

// Purge drops the in-process tier. Redis entries age out by TTL.
func (c *Cache) Purge() {
	c.mem.purge()
}

// Tiers names the active cache tiers.
func (c *Cache) Tiers() string {
	if c.redis != nil {
		return "memory+redis"
	}
	return "memory"
}

func (c *Cache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(tier)
	}
}

func (c *Cache) recordMiss(tier string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(tier)
	}
}
