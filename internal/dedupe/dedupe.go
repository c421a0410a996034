// Package dedupe keeps a short-TTL set of recently seen event fingerprints.
//
// The cache is best-effort and in-memory only: it suppresses duplicate
// counting within the TTL window but makes no exactly-once promise across
// restarts.
package dedupe

import (
	"sync"
	"time"
)

// Cache is a bounded fingerprint set. Safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	ttl       time.Duration
	highWater int
	entries   map[string]time.Time
	now       func() time.Time
}

// New creates a Cache. ttl <= 0 defaults to 10 minutes, highWater <= 0 to
// 200000 entries.
func New(ttl time.Duration, highWater int) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if highWater <= 0 {
		highWater = 200_000
	}
	return &Cache{
		ttl:       ttl,
		highWater: highWater,
		entries:   make(map[string]time.Time),
		now:       time.Now,
	}
}

// Seen reports whether fp has an unexpired entry. The empty fingerprint is
// never considered seen.
func (c *Cache) Seen(fp string) bool {
	if fp == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.entries[fp]
	return ok && c.now().Sub(at) < c.ttl
}

// Insert records fp at the current time. When the cache exceeds its
// high-water mark, every entry older than the TTL is purged first.
func (c *Cache) Insert(fp string) {
	if fp == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.entries) >= c.highWater {
		for k, at := range c.entries {
			if now.Sub(at) >= c.ttl {
				delete(c.entries, k)
			}
		}
	}
	c.entries[fp] = now
}

// Len returns the current entry count, expired entries included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
