package gridstore

import (
	"container/list"
	"fmt"
	"sync"
)

// StoreCache keeps a bounded number of open GridStore handles in memory,
// evicting the least-recently-used one once maxOpen is exceeded. A
// geocoder backed by dozens of per-language, per-region layers opens far
// more stores than it can usefully hold open at once; this lets callers
// address them by path without managing lifetimes by hand.
type StoreCache struct {
	maxOpen int
	entries map[string]*cacheEntry
	lru     *list.List
	mu      sync.Mutex
}

type cacheEntry struct {
	path    string
	store   *GridStore
	element *list.Element
}

// NewStoreCache creates a cache that holds at most maxOpen stores open at
// once. maxOpen <= 0 means unbounded.
func NewStoreCache(maxOpen int) *StoreCache {
	return &StoreCache{
		maxOpen: maxOpen,
		entries: make(map[string]*cacheEntry),
		lru:     list.New(),
	}
}

// Get returns the store at path, opening it with opener on a miss. The
// returned store is retained by the cache; callers must not Close it
// themselves — use Evict or Clear to release it.
func (c *StoreCache) Get(path string, opener func(path string) (*GridStore, error)) (*GridStore, error) {
	c.mu.Lock()
	if e, ok := c.entries[path]; ok {
		c.lru.MoveToFront(e.element)
		store := e.store
		c.mu.Unlock()
		return store, nil
	}
	c.mu.Unlock()

	store, err := opener(path)
	if err != nil {
		return nil, fmt.Errorf("gridstore: open %q: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		// another caller opened it first; keep theirs, close ours.
		c.lru.MoveToFront(e.element)
		_ = store.Close()
		return e.store, nil
	}

	entry := &cacheEntry{path: path, store: store}
	entry.element = c.lru.PushFront(entry)
	c.entries[path] = entry

	if c.maxOpen > 0 {
		for len(c.entries) > c.maxOpen {
			c.evictOldest()
		}
	}
	return store, nil
}

// evictOldest closes and forgets the least-recently-used store. Must be
// called with c.mu held.
func (c *StoreCache) evictOldest() {
	elem := c.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.entries, entry.path)
	_ = entry.store.Close()
}

// Evict closes and removes one store by path, if present.
func (c *StoreCache) Evict(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[path]; ok {
		c.lru.Remove(e.element)
		delete(c.entries, path)
		_ = e.store.Close()
	}
}

// Clear closes and removes every cached store.
func (c *StoreCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, e := range c.entries {
		_ = e.store.Close()
		delete(c.entries, path)
	}
	c.lru.Init()
}

// Len reports how many stores are currently held open.
func (c *StoreCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
