package cache

import "sync"

// FIFO is a bounded cache that evicts the oldest inserted entry when full.
// Re-setting an existing key updates its value without changing its age.
//
// Thread-safe: Uses RWMutex for concurrent access.
type FIFO[K comparable, V any] struct {
	mu       sync.RWMutex
	entries  map[K]V
	order    []K
	maxSize  int
	disabled bool

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewFIFO creates a cache holding at most maxSize entries. A maxSize of 0 or
// less disables the cache.
func NewFIFO[K comparable, V any](maxSize int) *FIFO[K, V] {
	return &FIFO[K, V]{
		entries:  make(map[K]V),
		maxSize:  maxSize,
		disabled: maxSize <= 0,
	}
}

// Get returns the cached value for key.
// Always misses if caching is disabled (DATALINEAGE_CACHE=0).
func (c *FIFO[K, V]) Get(key K) (V, bool) {
	var zero V
	if Disabled || c.disabled {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	c.hits++
	return v, true
}

// Set stores a value, evicting the oldest entry when at capacity.
// No-op if caching is disabled (DATALINEAGE_CACHE=0).
func (c *FIFO[K, V]) Set(key K, value V) {
	if Disabled || c.disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		return
	}
	for len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.evictions++
	}
	c.entries[key] = value
	c.order = append(c.order, key)
}

// Invalidate clears all entries from the cache.
func (c *FIFO[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[K]V)
		c.order = nil
	}
}

// Len returns the current number of entries in the cache.
func (c *FIFO[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FIFOStats reports cache counters.
type FIFOStats struct {
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns current cache statistics.
func (c *FIFO[K, V]) Stats() FIFOStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return FIFOStats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
