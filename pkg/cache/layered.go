package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Layered fronts a shared cache (Redis) with a short-lived local LRU.
// Deletes go to both layers; other processes' local layers converge within
// the local TTL.
type Layered struct {
	local  Cache
	shared Cache
}

// NewLayered combines a local and a shared cache
func NewLayered(local, shared Cache) *Layered {
	return &Layered{local: local, shared: shared}
}

func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := l.local.Get(ctx, key); err == nil && ok {
		return v, true, nil
	}
	v, ok, err := l.shared.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	_ = l.local.Set(ctx, key, v, 0)
	return v, true, nil
}

func (l *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = l.local.Set(ctx, key, value, ttl)
	return l.shared.Set(ctx, key, value, ttl)
}

func (l *Layered) Delete(ctx context.Context, keys ...string) error {
	return errors.Join(l.local.Delete(ctx, keys...), l.shared.Delete(ctx, keys...))
}

func (l *Layered) DeletePrefix(ctx context.Context, prefix string) error {
	return errors.Join(l.local.DeletePrefix(ctx, prefix), l.shared.DeletePrefix(ctx, prefix))
}

func (l *Layered) Close() error {
	return errors.Join(l.local.Close(), l.shared.Close())
}

// New builds the cache described by cfg. With a Redis client the result is
// a local LRU in front of Redis, capped at LocalTTL; without one it is the
// LRU alone and each entry lives for the ttl its writer passed.
func New(cfg Config, client redis.UniversalClient) Cache {
	if client == nil {
		return NewMemoryCache(cfg.LocalSize, 0)
	}
	shared := NewRedisCache(client, cfg.KeyPrefix)
	if cfg.LocalSize <= 0 {
		return shared
	}
	return NewLayered(NewMemoryCache(cfg.LocalSize, cfg.LocalTTL), shared)
}
