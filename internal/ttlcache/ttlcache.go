// Package ttlcache is a keyed expiring in-memory store shared across the process.
// Callers namespace keys as "<kind>::<logical-key>".
package ttlcache

import (
	"sync"
	"time"
)

type entry struct {
	expiresAt time.Time
	value     any
}

// Cache maps string keys to values with per-entry expiry. A stale entry is never
// served; it is evicted on the read that observes it.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry), now: time.Now}
}

// NewAt is like New with an injectable clock, for tests.
func NewAt(now func() time.Time) *Cache {
	return &Cache{entries: make(map[string]entry), now: now}
}

// Set stores value under key until now+ttl, overwriting any previous entry.
// A non-positive ttl removes the key.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = entry{expiresAt: c.now().Add(ttl), value: value}
}

// Get returns the live value for key. Miss when absent or expired; an expired
// entry is evicted.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of entries including any not yet evicted stale ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetAs returns the live value for key when it is a T. A value of the wrong type
// counts as a miss (namespaced keys make this a programmer error, not a runtime
// condition).
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
