package pricecache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL bounds how long a reference price is served from memory.
const DefaultTTL = 15 * time.Second

type entry struct {
	value    interface{}
	insertAt time.Time
}

// Cache is a TTL-bounded in-memory map keyed by (chain, token address),
// both lowercased. A single mutex serializes access.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry

	hits   int64
	misses int64

	now func() time.Time
}

// New creates a cache with the given TTL; ttl <= 0 falls back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func key(chain, addr string) string {
	return strings.ToLower(chain) + ":" + strings.ToLower(addr)
}

// Get returns the cached value, or nil when absent or expired.
func (c *Cache) Get(chain, addr string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key(chain, addr)]
	if !ok || c.now().Sub(e.insertAt) > c.ttl {
		if ok {
			delete(c.entries, key(chain, addr))
		}
		c.misses++
		return nil
	}
	c.hits++
	return e.value
}

// Set stores a value with the current timestamp.
func (c *Cache) Set(chain, addr string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(chain, addr)] = entry{value: value, insertAt: c.now()}
}

// Clear drops all entries and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]entry)
	return n
}

// CleanupExpired removes expired entries and returns how many were dropped.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	cutoff := c.now()
	for k, e := range c.entries {
		if cutoff.Sub(e.insertAt) > c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Stats reports hit/miss counters and the live entry count.
func (c *Cache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}
