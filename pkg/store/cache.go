package store

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore serves GetCached from an LRU of documents and invalidates
// entries on every write
type CachedStore struct {
	Store
	cache *lru.Cache[string, *Document]
}

// NewCachedStore wraps inner with a cache of size documents
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New[string, *Document](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: inner, cache: c}, nil
}

// GetCached implements Store
func (c *CachedStore) GetCached(ctx context.Context, entityType, name string) (*Document, error) {
	key := cacheKey(entityType, name)
	if d, ok := c.cache.Get(key); ok {
		return d.Clone(), nil
	}
	d, err := c.Store.Get(ctx, entityType, name)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, d.Clone())
	return d, nil
}

// Insert implements Store. A rejected insert leaves the stored document,
// and its cache entry, untouched.
func (c *CachedStore) Insert(ctx context.Context, doc *Document) error {
	if err := c.Store.Insert(ctx, doc); err != nil {
		return err
	}
	c.cache.Remove(cacheKey(doc.EntityType, doc.Name))
	return nil
}

// Update implements Store
func (c *CachedStore) Update(ctx context.Context, doc *Document) error {
	c.cache.Remove(cacheKey(doc.EntityType, doc.Name))
	return c.Store.Update(ctx, doc)
}

// Len returns the number of cached documents
func (c *CachedStore) Len() int {
	return c.cache.Len()
}

func cacheKey(entityType, name string) string {
	return entityType + "\x00" + name
}
