// Package cache provides a small bounded string cache. Entries are
// stamped on insertion; when the cache grows past its capacity the
// oldest-inserted entry is evicted. Get and Set are the whole contract.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value string
	ts    time.Time
}

// Cache is a bounded map of string keys to string values.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]entry
	now      func() time.Time
}

// New creates a cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]entry, capacity),
		now:      time.Now,
	}
}

// Get returns the cached value for key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e.value, ok
}

// Set stores value under key, evicting the oldest-inserted entry if
// the cache is over capacity.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		var oldestKey string
		var oldest time.Time
		first := true
		for k, e := range c.entries {
			if first || e.ts.Before(oldest) {
				oldestKey, oldest = k, e.ts
				first = false
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = entry{value: value, ts: c.now()}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
