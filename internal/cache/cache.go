// Package cache holds last-known document content keyed by path and guarded
// by a modification-time fingerprint. It never performs I/O: callers supply
// the current fingerprint and re-read on a miss.
package cache

import (
	"container/list"
	"sync"
)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
	TotalEntries int     `json:"totalEntries"`
	HitRate      float64 `json:"hitRate"`
}

type entry struct {
	path        string
	content     []byte
	fingerprint int64
}

// Cache is a fingerprint-checked content cache with LRU eviction.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int        // <= 0 means unbounded

	hits      int64
	misses    int64
	evictions int64
}

// New creates a Cache holding at most maxSize entries; maxSize <= 0 disables
// the bound.
func New(maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached content for path when the stored fingerprint equals
// fingerprint. Any mismatch or absence is a miss and the caller must re-read
// and Set.
func (c *Cache) Get(path string, fingerprint int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[path]
	if !ok || el.Value.(*entry).fingerprint != fingerprint {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(el)
	return el.Value.(*entry).content, true
}

// Set stores content for path under fingerprint, replacing any prior entry
// and evicting the least-recently-used entry when the bound is exceeded.
func (c *Cache) Set(path string, content []byte, fingerprint int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[path]; ok {
		e := el.Value.(*entry)
		e.content = content
		e.fingerprint = fingerprint
		c.order.MoveToFront(el)
		return
	}
	c.entries[path] = c.order.PushFront(&entry{path: path, content: content, fingerprint: fingerprint})

	if c.maxSize > 0 && c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry).path)
			c.evictions++
		}
	}
}

// Invalidate removes one entry.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[path]; ok {
		c.order.Remove(el)
		delete(c.entries, path)
	}
}

// InvalidateAll clears the cache. Counters are preserved.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		TotalEntries: len(c.entries),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
