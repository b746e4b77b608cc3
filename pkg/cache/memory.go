package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryCache is a bounded in-process LRU. The ttl given at construction is
// a ceiling for every entry; a shorter per-call ttl on Set wins. Zero means
// no expiry.
type MemoryCache struct {
	lru *lru.LRU[string, memoryEntry]
	now func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache creates an LRU holding at most size entries
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size < 16 {
		size = 16
	}
	return &MemoryCache{
		lru: lru.NewLRU[string, memoryEntry](size, nil, ttl),
		now: time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.lru.Remove(k)
	}
	return nil
}

func (m *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	for _, k := range m.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.lru.Remove(k)
		}
	}
	return nil
}

// Len returns the number of entries held, including ones past their
// per-call deadline that have not been read since
func (m *MemoryCache) Len() int {
	return m.lru.Len()
}

func (m *MemoryCache) Close() error {
	m.lru.Purge()
	return nil
}
