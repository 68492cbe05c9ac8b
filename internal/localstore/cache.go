package localstore

import (
	"sync"
	"time"
)

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache stores values in-memory with per-entry TTLs. Used for hot-path
// settings and template lookups; invalidated on every write to those types.
type ttlCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]cacheEntry[V]
}

func newTTLCache[K comparable, V any]() *ttlCache[K, V] {
	return &ttlCache[K, V]{items: make(map[K]cacheEntry[V])}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.Delete(key)
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	entry := cacheEntry[V]{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = entry
	c.mu.Unlock()
}

func (c *ttlCache[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}
