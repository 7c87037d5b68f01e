// Package cache provides a TTL-keyed in-memory cache shared by the
// embedding, classification, and live-data layers to bound external call
// volume.
package cache

import (
	"sync"
	"time"
)

// TTL classes. Each cache consumer picks the class matching how quickly
// its upstream data goes stale.
const (
	// TTLQuote covers real-time quotes.
	TTLQuote = time.Minute
	// TTLNews covers news search results.
	TTLNews = 30 * time.Minute
	// TTLFundamentals covers embeddings and company fundamentals.
	TTLFundamentals = 24 * time.Hour
	// TTLClassification covers query classification results.
	TTLClassification = 10 * time.Minute
)

type entry struct {
	value     any
	createdAt time.Time
	ttl       time.Duration
}

// Cache is a concurrency-safe TTL key/value store. Entries are immutable
// once written; an expired entry is dropped lazily on the next read of its
// key. The zero value is not usable; use New.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   func() time.Time
}

// New returns an empty Cache using the system clock.
func New() *Cache {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty Cache using the given clock. Tests inject
// a deterministic clock to exercise expiry without sleeping.
func NewWithClock(clock func() time.Time) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		clock:   clock,
	}
}

// Get returns the cached value for key, or false when the key is absent or
// its TTL has elapsed.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.clock().Sub(e.createdAt) >= e.ttl {
		c.mu.Lock()
		// Re-check under the write lock: another goroutine may have
		// overwritten the key with a fresh entry.
		if cur, ok := c.entries[key]; ok && cur.createdAt.Equal(e.createdAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL, overwriting any prior
// entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, createdAt: c.clock(), ttl: ttl}
	c.mu.Unlock()
}

// Len returns the number of entries currently held, including any whose
// TTL has elapsed but which have not been read since.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge removes all entries whose TTL has elapsed. Called periodically by
// long-running processes to bound memory.
func (c *Cache) Purge() int {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.createdAt) >= e.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
