package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedStore is a read-through cache in front of a slower Store. Writes go
// to the backing store first and then update the cache.
type CachedStore struct {
	backing Store
	cache   *ristretto.Cache
}

func NewCachedStore(backing Store, maxEntries int64) (*CachedStore, error) {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &CachedStore{backing: backing, cache: cache}, nil
}

func (c *CachedStore) Store(ctx context.Context, key, value string) error {
	c.cache.Del(key)
	if err := c.backing.Store(ctx, key, value); err != nil {
		return err
	}
	c.cache.Set(key, value, 1)
	// sets are buffered; make the value visible to the next Read
	c.cache.Wait()
	return nil
}

func (c *CachedStore) Read(ctx context.Context, key string) (string, error) {
	if v, ok := c.cache.Get(key); ok {
		if s, ok := v.(string); ok {
			return s, nil
		}
	}

	value, err := c.backing.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.cache.Del(key)
		}
		return "", err
	}
	c.cache.Set(key, value, 1)
	return value, nil
}

func (c *CachedStore) Delete(ctx context.Context, key string) error {
	c.cache.Del(key)
	return c.backing.Delete(ctx, key)
}

func (c *CachedStore) Close() error {
	c.cache.Close()
	return nil
}
