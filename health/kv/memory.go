package kv

import (
	"context"
	"sync"
)

type MemoryStore struct {
	store sync.Map
}

func (m *MemoryStore) Store(_ context.Context, key, value string) error {
	m.store.Store(key, value)
	return nil
}

func (m *MemoryStore) Read(_ context.Context, key string) (string, error) {
	if result, ok := m.store.Load(key); ok {
		if val, ok := result.(string); ok {
			return val, nil
		}
	}

	return "", ErrNotFound
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}
