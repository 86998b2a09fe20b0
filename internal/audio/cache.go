package audio

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of decoded files kept in memory.
const DefaultCacheSize = 16

// LoadFunc decodes the file at path into samples.
type LoadFunc func(path string) ([]float32, error)

// CacheObserver is notified of cache lookups.
type CacheObserver interface {
	RecordDecodeCache(hit bool)
}

// CacheStats represents decode cache statistics
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Cache keeps decoded audio files keyed by path. Entries are immutable once
// stored and the least recently used one is evicted when the cache is full.
// Concurrent loads of the same path decode the file once.
type Cache struct {
	entries  *lru.Cache[string, []float32]
	group    singleflight.Group
	load     LoadFunc
	observer CacheObserver

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache creates a cache holding up to size files. A nil load uses LoadFile.
func NewCache(size int, load LoadFunc) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	if load == nil {
		load = LoadFile
	}

	entries, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &Cache{entries: entries, load: load}, nil
}

// SetObserver registers an observer for hits and misses.
func (c *Cache) SetObserver(observer CacheObserver) {
	c.observer = observer
}

// Load returns the decoded samples of path. The returned slice is shared and
// must not be modified.
func (c *Cache) Load(path string) ([]float32, error) {
	if samples, ok := c.entries.Get(path); ok {
		c.record(true)
		return samples, nil
	}

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		// Another caller may have stored it while we waited.
		if samples, ok := c.entries.Get(path); ok {
			return samples, nil
		}
		samples, err := c.load(path)
		if err != nil {
			return nil, err
		}
		c.entries.Add(path, samples)
		return samples, nil
	})
	c.record(false)
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// LoadRange returns the samples of path between beg and end seconds.
func (c *Cache) LoadRange(path string, beg, end float64) ([]float32, error) {
	samples, err := c.Load(path)
	if err != nil {
		return nil, err
	}
	return Slice(samples, beg, end), nil
}

// Duration returns the length of path in seconds.
func (c *Cache) Duration(path string) (float64, error) {
	samples, err := c.Load(path)
	if err != nil {
		return 0, err
	}
	return Duration(len(samples)), nil
}

// Invalidate drops path from the cache.
func (c *Cache) Invalidate(path string) {
	c.entries.Remove(path)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// GetStats returns current cache statistics
func (c *Cache) GetStats() CacheStats {
	return CacheStats{
		Entries: c.entries.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

func (c *Cache) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observer != nil {
		c.observer.RecordDecodeCache(hit)
	}
}
