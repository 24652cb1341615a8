// Package cache memoizes resolved listing details by link so concurrent
// workers reuse a scrape instead of repeating it.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sells-group/listings-crawler/internal/model"
)

// Cache maps a listing link to previously resolved details. Put never
// overwrites an existing entry.
type Cache interface {
	Get(ctx context.Context, link string) (model.DetailFields, bool)
	Put(ctx context.Context, link string, fields model.DetailFields)
	Stats() Stats
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Memory is a concurrent-safe in-process cache with first-write-wins
// semantics. Each call holds the lock for a single map access.
type Memory struct {
	mu      sync.Mutex
	entries map[string]model.DetailFields
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewMemory creates an empty Memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]model.DetailFields)}
}

// Get returns the cached details for link.
func (c *Memory) Get(_ context.Context, link string) (model.DetailFields, bool) {
	c.mu.Lock()
	fields, ok := c.entries[link]
	c.mu.Unlock()

	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return fields, ok
}

// Put stores fields for link unless an entry already exists.
func (c *Memory) Put(_ context.Context, link string, fields model.DetailFields) {
	c.putIfAbsent(link, fields)
}

// putIfAbsent reports whether the entry was written.
func (c *Memory) putIfAbsent(link string, fields model.DetailFields) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[link]; ok {
		return false
	}
	c.entries[link] = fields
	return true
}

// Len returns the number of cached links.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Memory) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{Entries: c.Len(), Hits: hits, Misses: misses, HitRate: rate}
}
