// Package resultcache caches query results in Redis. Keys embed the index
// location and its commit generation, so a commit makes earlier entries
// unreachable without an explicit flush.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/resilience"
)

const keyPrefix = "fts:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Store = (*pkgredis.Client)(nil)

// Key identifies one cached result.
type Key struct {
	Location   string
	Generation uint64
	// Op and Params describe the request; Params must be JSON-encodable.
	Op     string
	Params any
}

// Cache reads and writes go through a circuit breaker; while it is open
// every lookup is a miss and nothing is written.
type Cache struct {
	store   Store
	breaker *resilience.CircuitBreaker
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *Cache {
	if m == nil {
		m = metrics.New(nil)
	}
	breaker := resilience.NewCircuitBreaker("result-cache", resilience.CircuitBreakerConfig{
		IsFailure: func(err error) bool { return !pkgredis.IsNilError(err) },
		OnStateChange: func(_, to resilience.State) {
			m.CacheBreakerState.Set(float64(to))
		},
	})
	return &Cache{
		store:   store,
		breaker: breaker,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "result-cache"),
	}
}

func (c *Cache) get(ctx context.Context, key string, out any) bool {
	var data string
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		switch {
		case pkgredis.IsNilError(err):
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.logger.Debug("cache bypassed", "key", key)
		default:
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return false
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return false
	}
	c.hits.Add(1)
	c.metrics.CacheHitsTotal.Inc()
	c.logger.Debug("cache hit", "key", key)
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (c *Cache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMissesTotal.Inc()
}

// GetOrCompute returns the cached value for k, or runs compute once per key
// across concurrent callers and caches its result. A miss costs one store
// read and one write. Cache failures degrade
// to computing; compute errors are returned and never cached.
func GetOrCompute[T any](ctx context.Context, c *Cache, k Key, compute func() (T, error)) (T, bool, error) {
	var zero T
	key, err := c.buildKey(k)
	if err != nil {
		c.logger.Warn("cache key build failed", "error", err)
		v, err := compute()
		return v, false, err
	}
	var cached T
	if c.get(ctx, key, &cached) {
		return cached, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		result, err := compute()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return zero, false, err
	}
	return val.(T), false, nil
}

// Invalidate removes every cached entry of location.
func (c *Cache) Invalidate(ctx context.Context, location string) error {
	pattern := keyPrefix + locationHash(location) + ":*"
	deleted, err := c.store.FlushByPattern(ctx, pattern)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "location", location, "keys_deleted", deleted)
	return nil
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) buildKey(k Key) (string, error) {
	params, err := json.Marshal(k.Params)
	if err != nil {
		return "", fmt.Errorf("encoding key params: %w", err)
	}
	hash := sha256.Sum256(append([]byte(k.Op+"\x00"), params...))
	return fmt.Sprintf("%s%s:%d:%x", keyPrefix, locationHash(k.Location), k.Generation, hash[:16]), nil
}

func locationHash(location string) string {
	h := sha256.Sum256([]byte(location))
	return fmt.Sprintf("%x", h[:8])
}
