package pager

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds a cursor cache when no size is configured.
const DefaultCacheSize = 512

// Cache remembers the offset at which a message was last seen in its
// conversation's newest-first timeline. Entries are hints only.
type Cache struct {
	lru *lru.Cache[string, int]
}

// NewCache creates a cursor cache holding up to size entries.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, int](size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the hinted offset of messageID.
func (c *Cache) Get(messageID string) (int, bool) {
	return c.lru.Get(messageID)
}

// Put records the offset of messageID.
func (c *Cache) Put(messageID string, offset int) {
	c.lru.Add(messageID, offset)
}

// Forget drops the hint for messageID.
func (c *Cache) Forget(messageID string) {
	c.lru.Remove(messageID)
}

// Reset drops every hint.
func (c *Cache) Reset() {
	c.lru.Purge()
}

// Len returns the number of hints held.
func (c *Cache) Len() int {
	return c.lru.Len()
}
