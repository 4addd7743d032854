package route

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func routes(key string) []Route {
	return []Route{{Key: key}}
}

func TestCache_BasicGetPut(t *testing.T) {
	cache := NewCache(100, time.Hour)
	k := CacheKey(geom.Coord{1, 2}, geom.Coord{3, 4}, []string{"length"})

	assert.Nil(t, cache.Get(k))

	cache.Put(k, routes("length"))
	assert.Equal(t, routes("length"), cache.Get(k))

	other := CacheKey(geom.Coord{1, 2}, geom.Coord{3, 4}, []string{"cost_2"})
	assert.Nil(t, cache.Get(other))
}

func TestCacheKey_RoundsToCentimetre(t *testing.T) {
	a := CacheKey(geom.Coord{1.001, 2}, geom.Coord{3, 4}, nil)
	b := CacheKey(geom.Coord{1.002, 2}, geom.Coord{3, 4}, nil)
	assert.Equal(t, a, b)
}

func TestCache_TTLExpiration(t *testing.T) {
	cache := NewCache(100, 50*time.Millisecond)

	cache.Put("q", routes("length"))
	assert.NotNil(t, cache.Get("q"))

	time.Sleep(60 * time.Millisecond)
	assert.Nil(t, cache.Get("q"))

	cache.mu.RLock()
	_, exists := cache.entries["q"]
	cache.mu.RUnlock()
	assert.False(t, exists)
}

func TestCache_LRUEviction_AccessOrder(t *testing.T) {
	cache := NewCache(3, time.Hour)

	cache.Put("a", routes("a"))
	cache.Put("b", routes("b"))
	cache.Put("c", routes("c"))

	// Touch "a" so "b" becomes the oldest.
	cache.Get("a")
	cache.Put("d", routes("d"))

	assert.NotNil(t, cache.Get("a"))
	assert.Nil(t, cache.Get("b"))
	assert.NotNil(t, cache.Get("c"))
	assert.NotNil(t, cache.Get("d"))
}

func TestCache_DisabledWhenZeroCapacity(t *testing.T) {
	cache := NewCache(0, time.Hour)
	cache.Put("a", routes("a"))
	assert.Nil(t, cache.Get("a"))
}

func TestCache_ResetAndStats(t *testing.T) {
	cache := NewCache(10, time.Hour)
	cache.Put("a", routes("a"))
	cache.Get("a")
	cache.Get("missing")

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-12)

	cache.Reset()
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache(50, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := CacheKey(geom.Coord{float64(i), 0}, geom.Coord{0, 0}, nil)
			cache.Put(k, routes("length"))
			cache.Get(k)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, cache.Stats().Entries, 50)
}
