package playlist

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched playlist stays valid in the cache.
const DefaultTTL = 300 * time.Second

type cacheEntry struct {
	fetchedAt time.Time
	playlist  *Playlist
}

// Cache is a TTL cache keyed by playlist id, shared by all rooms.
// All access goes through the mutex; rooms run on independent goroutines.
type Cache struct {
	ttl     time.Duration
	entries map[string]cacheEntry
	mu      sync.Mutex
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached playlist if present and still fresh.
func (c *Cache) Get(playlistID string) (*Playlist, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[playlistID]
	if !exists {
		return nil, false
	}
	if time.Since(entry.fetchedAt) > c.ttl {
		delete(c.entries, playlistID)
		return nil, false
	}
	return entry.playlist, true
}

func (c *Cache) Put(playlistID string, p *Playlist) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[playlistID] = cacheEntry{
		fetchedAt: time.Now(),
		playlist:  p,
	}
}

// Invalidate drops the entry for a playlist, forcing the next Fetch to hit
// the upstream service. Used when a room switches playlists.
func (c *Cache) Invalidate(playlistID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, playlistID)
}

// CachedService wraps a Service with fetch-or-reuse-if-fresh semantics.
type CachedService struct {
	svc   Service
	cache *Cache
}

func NewCachedService(svc Service, cache *Cache) *CachedService {
	return &CachedService{
		svc:   svc,
		cache: cache,
	}
}

func (cs *CachedService) Fetch(ctx context.Context, playlistID string) (*Playlist, error) {
	if p, ok := cs.cache.Get(playlistID); ok {
		return p, nil
	}

	p, err := cs.svc.Fetch(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	cs.cache.Put(playlistID, p)
	return p, nil
}

func (cs *CachedService) Invalidate(playlistID string) {
	cs.cache.Invalidate(playlistID)
}
