// Package cache provides an in-memory mirror of recently touched store
// entries. It is purely an accelerator: a miss only costs an extra store
// read, never a wrong answer.
package cache

import (
	"context"
	"sync"

	"vecstash/internal/vector"
)

// Key identifies a cached entry.
type Key struct {
	Collection string
	ID         int64
}

// Loader fetches an entry from the backing store on a cache miss.
type Loader func(ctx context.Context) (*vector.Entry, error)

// Cache is a concurrent map from (collection, id) to entry. Entries are
// treated as immutable once stored; racing writers resolve last-write-wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*vector.Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]*vector.Entry)}
}

// Get returns the cached entry, if present.
func (c *Cache) Get(collection string, id int64) (*vector.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[Key{collection, id}]
	return e, ok
}

// GetOrLoad returns the cached entry, loading and populating the cache on
// a miss. Load errors are returned unchanged and nothing is cached.
func (c *Cache) GetOrLoad(ctx context.Context, collection string, id int64, load Loader) (*vector.Entry, error) {
	if e, ok := c.Get(collection, id); ok {
		return e, nil
	}
	e, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.Put(e)
	return e, nil
}

// Put stores an entry.
func (c *Cache) Put(e *vector.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[Key{e.Collection, e.ID}] = e
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(collection string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, Key{collection, id})
}

// InvalidateCollection removes every entry belonging to a collection.
func (c *Cache) InvalidateCollection(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.Collection == collection {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
