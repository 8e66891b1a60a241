// Package offline arbitrates reads and writes against backend reachability
// and a local TTL cache.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BookListKey caches the signed-in user's books.
const BookListKey = "book-list"

// EntriesKey caches the entries of one book.
func EntriesKey(bookID uuid.UUID) string {
	return fmt.Sprintf("entries:%s", bookID)
}

// CacheEntry is one stored blob with the time it was fetched.
type CacheEntry struct {
	Value     json.RawMessage `json:"value"`
	LastFetch time.Time       `json:"lastFetch"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e CacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	if e.LastFetch.IsZero() {
		return false
	}
	return now.Sub(e.LastFetch) < ttl
}

// Cache is the local persistence behind the coordinator. Implementations
// store serialised copies so callers never share mutable state.
type Cache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry CacheEntry) error
	Invalidate(ctx context.Context, key string) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]CacheEntry
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]CacheEntry)}
}

// Get returns a copy of the stored entry.
func (c *MemoryCache) Get(_ context.Context, key string) (CacheEntry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return CacheEntry{}, false, nil
	}
	return cloneEntry(item), true, nil
}

// Set stores a copy of entry.
func (c *MemoryCache) Set(_ context.Context, key string, entry CacheEntry) error {
	c.mu.Lock()
	c.items[key] = cloneEntry(entry)
	c.mu.Unlock()
	return nil
}

// Invalidate drops the value and its timestamp.
func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

func cloneEntry(e CacheEntry) CacheEntry {
	return CacheEntry{
		Value:     append(json.RawMessage(nil), e.Value...),
		LastFetch: e.LastFetch,
	}
}
