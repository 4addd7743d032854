package route

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twpayne/go-geom"
)

// Cache is a concurrent-safe LRU cache of route answers with TTL expiration.
// Entries belong to one evaluator; Reset when the evaluator is replaced.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	routes    []Route
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewCache creates a Cache with the given capacity and TTL.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// CacheKey identifies a query. Coordinates are rounded to the centimetre.
func CacheKey(origin, dest geom.Coord, keys []string) string {
	return fmt.Sprintf("%.2f,%.2f>%.2f,%.2f|%s",
		origin.X(), origin.Y(), dest.X(), dest.Y(), strings.Join(keys, ","))
}

// Get returns cached routes, or nil on miss or expiration.
func (c *Cache) Get(key string) []Route {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}

	if time.Since(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.routes
}

// Put stores routes, evicting the least recently used entry at capacity.
func (c *Cache) Put(key string, routes []Route) {
	if c.maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &cacheEntry{routes: routes, createdAt: time.Now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{routes: routes, createdAt: time.Now()}
	c.order = append(c.order, key)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = nil
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return CacheStats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
