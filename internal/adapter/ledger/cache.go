package ledger

import (
	"strings"
	"sync"
	"time"

	"github.com/panashe-dev/kombi-go/pkg/metrics"
)

// ResponseCache is a small bounded TTL cache for GET payloads.
// Expired entries are lazily evicted on the next read; when full, the oldest
// entry is evicted before a new one is stored.
type ResponseCache struct {
	mu       sync.Mutex
	store    map[string]cacheEntry
	order    []string // insertion order, oldest first
	capacity int
	now      func() time.Time
}

type cacheEntry struct {
	data any
	ts   time.Time
	ttl  time.Duration
}

// NewResponseCache creates a cache bounded to capacity entries.
func NewResponseCache(capacity int) *ResponseCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &ResponseCache{
		store:    make(map[string]cacheEntry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Get returns the cached payload and true if present and not expired.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.store[key]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}
	if c.now().Sub(e.ts) > e.ttl {
		c.remove(key)
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.Inc()
	return e.data, true
}

// Set stores a payload under key with the given TTL.
func (c *ResponseCache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; exists {
		c.remove(key)
	}

	// Evict oldest before exceeding capacity
	for len(c.store) >= c.capacity && len(c.order) > 0 {
		c.remove(c.order[0])
		metrics.CacheEvictionsTotal.Inc()
	}

	c.store[key] = cacheEntry{data: data, ts: c.now(), ttl: ttl}
	c.order = append(c.order, key)
}

// InvalidateMatching drops every entry whose key contains the fragment.
func (c *ResponseCache) InvalidateMatching(fragment string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.store {
		if strings.Contains(key, fragment) {
			c.remove(key)
		}
	}
}

// Clear drops the entire cache.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store = make(map[string]cacheEntry, c.capacity)
	c.order = c.order[:0]
}

// remove must be called with the lock held.
func (c *ResponseCache) remove(key string) {
	delete(c.store, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
