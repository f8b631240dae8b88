// Package kv holds the key-value storage used to persist sync state.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// Store is an opaque string key-value store. Read returns ErrNotFound for
// absent keys; Delete of an absent key is not an error.
type Store interface {
	Store(ctx context.Context, key, value string) error
	Read(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// ensure that we are satisfying the interface
var (
	_ = []Store{
		&MemoryStore{},
		&SqliteStore{},
		&RedisStore{},
		&OpenBaoStore{},
		&CachedStore{},
	}
)
