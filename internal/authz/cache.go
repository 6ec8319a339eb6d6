package authz

import (
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of distinct fingerprints kept.
const DefaultCacheSize = 256

type entry struct {
	fingerprint string
	result      *Result
	expiresAt   time.Time
}

// Cache maps fingerprints to results until the result's expiry. Entries are
// only inspected on Get; the LRU bound caps growth when many distinct
// child/activity combinations are checked.
type Cache struct {
	entries *lru.Cache[string, entry]
}

// NewCache returns a cache holding at most size entries (DefaultCacheSize if size <= 0).
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		// only returned for non-positive sizes
		panic(err)
	}
	return &Cache{entries: c}
}

// Get returns the cached result when it expires strictly after now.
// Expired entries are evicted.
func (c *Cache) Get(fingerprint string, now time.Time) (*Result, bool) {
	e, ok := c.entries.Get(fingerprint)
	if !ok {
		return nil, false
	}
	if e.expiresAt.After(now) {
		return e.result, true
	}
	c.entries.Remove(fingerprint)
	slog.Debug("authz cache: evicted expired entry", "expired_at", e.expiresAt)
	return nil, false
}

// Put stores or replaces the entry for fingerprint.
func (c *Cache) Put(fingerprint string, r *Result) {
	c.entries.Add(fingerprint, entry{
		fingerprint: fingerprint,
		result:      r,
		expiresAt:   r.Expires(),
	})
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *Cache) Len() int { return c.entries.Len() }

// Purge drops every entry.
func (c *Cache) Purge() { c.entries.Purge() }
