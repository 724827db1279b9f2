package transclusion

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the resolved-content cache.
const DefaultCacheSize = 1024

// Key identifies one resolved inclusion.
type Key struct {
	Target  string
	Section string
	Options string
}

// Entry is a self-consistent cached expansion. Height is the number of
// nesting levels the expansion spans (1 for a leaf); Includes lists every
// document whose content went into Text, the target itself included.
type Entry struct {
	Text     string
	Height   int
	Includes []string
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache is the resolved-content cache. All access goes through one mutex,
// so a reader never observes a partially written entry. An index from
// document to keys lets Invalidate drop every expansion that inlined a
// changed document, not only the ones keyed on it.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[Key, Entry]
	byDoc  map[string]map[Key]struct{}
	hits   int64
	misses int64
}

// NewCache creates a cache holding at most size entries.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c := &Cache{byDoc: make(map[string]map[Key]struct{})}
	l, err := lru.NewWithEvict[Key, Entry](size, c.unindex)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// Get returns the entry for key.
func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return e, ok
}

// Put stores e under key, replacing any previous entry.
func (c *Cache) Put(key Key, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(key); ok {
		c.unindex(key, old)
	}
	c.lru.Add(key, e)
	for _, id := range e.Includes {
		keys, ok := c.byDoc[id]
		if !ok {
			keys = make(map[Key]struct{})
			c.byDoc[id] = keys
		}
		keys[key] = struct{}{}
	}
}

// Invalidate drops every entry whose expansion includes id and returns
// how many were removed.
func (c *Cache) Invalidate(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.byDoc[id]))
	for k := range c.byDoc[id] {
		keys = append(keys, k)
	}
	for _, k := range keys {
		c.lru.Remove(k)
	}
	delete(c.byDoc, id)
	return len(keys)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.byDoc = make(map[string]map[Key]struct{})
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: c.lru.Len(), Hits: c.hits, Misses: c.misses}
}

// unindex is the eviction callback. It runs with c.mu held.
func (c *Cache) unindex(key Key, e Entry) {
	for _, id := range e.Includes {
		keys := c.byDoc[id]
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byDoc, id)
		}
	}
}
