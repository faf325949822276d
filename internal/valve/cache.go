package valve

import (
	"strings"
	"sync"
	"time"

	"github.com/gridshift-io/gridshift/pkg/types"
)

// readCache is a bounded TTL cache for range-query results. Eviction removes
// the single oldest-inserted entry when capacity is exceeded.
type readCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]cacheEntry
	order    []string // insertion order, oldest first
	now      func() time.Time
}

type cacheEntry struct {
	snaps      []types.PriceSnapshot
	insertedAt time.Time
}

func newReadCache(ttl time.Duration, capacity int, now func() time.Time) *readCache {
	return &readCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]cacheEntry),
		now:      now,
	}
}

// get returns the cached result, treating expired entries as misses.
func (c *readCache) get(key string) ([]types.PriceSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) > c.ttl {
		c.remove(key)
		return nil, false
	}
	return entry.snaps, true
}

func (c *readCache) put(key string, snaps []types.PriceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.remove(key)
	}
	c.entries[key] = cacheEntry{snaps: snaps, insertedAt: c.now()}
	c.order = append(c.order, key)
	if len(c.entries) > c.capacity && len(c.order) > 0 {
		c.remove(c.order[0])
	}
}

// invalidatePrefix drops every entry whose key begins with prefix.
func (c *readCache) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.remove(key)
		}
	}
}

// remove deletes a key and its order slot. Callers hold mu.
func (c *readCache) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *readCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
