package refdata

import (
	"context"
	"strings"
	"sync"
	"time"

	"medcoder/internal/utils"
)

const defaultCacheTTL = 15 * time.Minute

type cacheEntry struct {
	data      []byte
	names     []string
	exists    bool
	createdAt time.Time
}

func (e cacheEntry) expired(now time.Time, ttl time.Duration) bool {
	return now.After(e.createdAt.Add(ttl))
}

// CachedStore layers a TTL read cache over a Store. Reference data changes
// rarely, so repeated per-case lookups (the same procedure record is read by
// three stages) hit memory instead of the repository.
type CachedStore struct {
	inner  Store
	ttl    time.Duration
	logger utils.ExtendedLogger

	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCachedStore wraps inner with a TTL cache. ttl <= 0 uses the default.
func NewCachedStore(inner Store, ttl time.Duration, logger utils.ExtendedLogger) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{
		inner:   inner,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (c *CachedStore) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// FileExists implements Store.
func (c *CachedStore) FileExists(ctx context.Context, filePath string) (bool, error) {
	key := "exists:" + filePath
	if e, ok := c.get(key); ok {
		return e.exists, nil
	}
	exists, err := c.inner.FileExists(ctx, filePath)
	if err != nil {
		return false, err
	}
	c.put(key, cacheEntry{exists: exists})
	return exists, nil
}

// GetFileContent implements Store. Only successful reads are cached; misses
// go back to the repository so freshly seeded records show up.
func (c *CachedStore) GetFileContent(ctx context.Context, filePath string) ([]byte, error) {
	key := "content:" + filePath
	if e, ok := c.get(key); ok {
		return e.data, nil
	}
	data, err := c.inner.GetFileContent(ctx, filePath)
	if err != nil {
		return nil, err
	}
	c.put(key, cacheEntry{data: data})
	return data, nil
}

// ListFilesByName implements Store.
func (c *CachedStore) ListFilesByName(ctx context.Context, dir, prefix string) ([]string, error) {
	key := "list:" + dir + ":" + prefix
	if e, ok := c.get(key); ok {
		return e.names, nil
	}
	names, err := c.inner.ListFilesByName(ctx, dir, prefix)
	if err != nil {
		return nil, err
	}
	c.put(key, cacheEntry{names: names})
	return names, nil
}

// Invalidate drops every cached entry for the path.
func (c *CachedStore) Invalidate(filePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasSuffix(key, ":"+filePath) || strings.HasPrefix(key, "list:") {
			delete(c.entries, key)
		}
	}
}

// Clear drops the whole cache.
func (c *CachedStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Stats reports cache size for health endpoints.
func (c *CachedStore) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	valid := 0
	now := c.now()
	for _, e := range c.entries {
		if !e.expired(now, c.ttl) {
			valid++
		}
	}
	return map[string]interface{}{
		"total_entries": len(c.entries),
		"valid_entries": valid,
		"ttl_minutes":   int(c.ttl.Minutes()),
	}
}

func (c *CachedStore) get(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(c.now(), c.ttl) {
		return cacheEntry{}, false
	}
	return e, true
}

func (c *CachedStore) put(key string, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.createdAt = c.now()
	c.entries[key] = e
}
