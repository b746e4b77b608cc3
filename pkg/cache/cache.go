// Package cache provides the key-based cache used for permission grants and
// catalog reads. Writers invalidate by removing keys; readers repopulate on
// the next miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/shopadmin/pkg/observability"
)

// Cache stores opaque values by key
type Cache interface {
	// Get returns the value and true on a hit, or false on a miss
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// Config holds cache settings
type Config struct {
	RedisURL  string
	KeyPrefix string
	TTL       time.Duration
	LocalSize int
	LocalTTL  time.Duration
}

// DefaultConfig returns an in-process cache configuration
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "shopadmin:",
		TTL:       10 * time.Minute,
		LocalSize: 4096,
		LocalTTL:  5 * time.Second,
	}
}

// GetJSON decodes a cached JSON value into dest. A value that no longer
// decodes is dropped and reported as a miss.
func GetJSON(ctx context.Context, c Cache, key string, dest interface{}) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON encodes value as JSON and stores it
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Noop never stores anything
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, ...string) error                  { return nil }
func (Noop) DeletePrefix(context.Context, string) error               { return nil }
func (Noop) Close() error                                             { return nil }

// Instrumented records hits and misses for a named cache
type Instrumented struct {
	Cache
	name    string
	metrics *observability.Metrics
}

// WithMetrics wraps c so lookups are counted under name
func WithMetrics(c Cache, name string, metrics *observability.Metrics) *Instrumented {
	return &Instrumented{Cache: c, name: name, metrics: metrics}
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := i.Cache.Get(ctx, key)
	if err == nil {
		if ok {
			i.metrics.CacheHit(i.name)
		} else {
			i.metrics.CacheMiss(i.name)
		}
	}
	return raw, ok, err
}
