package network

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twpayne/go-geom"
)

// CachedProvider wraps a Provider with a concurrent-safe LRU cache with TTL
// expiration. Cached networks are shared between requests and must be
// treated as read-only.
type CachedProvider struct {
	next       Provider
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string // front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	network   *Network
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

// NewCachedProvider caches up to maxEntries networks from next for ttl.
func NewCachedProvider(next Provider, maxEntries int, ttl time.Duration) *CachedProvider {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &CachedProvider{
		next:       next,
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// cacheKey includes the source because it is snapped into the graph.
func cacheKey(bbox BBox, source geom.Coord, mode Mode) string {
	return fmt.Sprintf("%s|%s|%s", mode, bbox, VertexName(source))
}

// Network returns a cached network or builds and caches a new one.
func (c *CachedProvider) Network(ctx context.Context, bbox BBox, source geom.Coord, mode Mode) (*Network, error) {
	key := cacheKey(bbox, source, mode)
	if n := c.get(key); n != nil {
		return n, nil
	}
	n, err := c.next.Network(ctx, bbox, source, mode)
	if err != nil {
		return nil, err
	}
	c.put(key, n)
	return n, nil
}

func (c *CachedProvider) get(key string) *Network {
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
	return entry.network
}

func (c *CachedProvider) put(key string, n *Network) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = &cacheEntry{network: n, createdAt: time.Now()}
	c.order = append(c.order, key)
}

// Stats returns cache performance statistics.
func (c *CachedProvider) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Entries: entries, MaxEntries: c.maxEntries, Hits: hits, Misses: misses, HitRate: rate}
}

func (c *CachedProvider) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
