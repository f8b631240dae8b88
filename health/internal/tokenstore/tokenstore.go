// Package tokenstore persists one change-feed continuation token per record
// type so that incremental sync survives process restarts.
package tokenstore

import (
	"context"
	"errors"

	"tangled.sh/tangled.sh/healthsync/health/kv"
	"tangled.sh/tangled.sh/healthsync/health/models"
)

const keyPrefix = "health_changes_token_"

type Store struct {
	kv kv.Store
}

func New(store kv.Store) *Store {
	return &Store{kv: store}
}

func Key(t models.RecordType) string {
	return keyPrefix + t.ID()
}

// Get returns the stored token of t; ok is false when none is stored.
func (s *Store) Get(ctx context.Context, t models.RecordType) (token string, ok bool, err error) {
	token, err = s.kv.Read(ctx, Key(t))
	if errors.Is(err, kv.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (s *Store) Set(ctx context.Context, t models.RecordType, token string) error {
	return s.kv.Store(ctx, Key(t), token)
}

func (s *Store) Delete(ctx context.Context, t models.RecordType) error {
	return s.kv.Delete(ctx, Key(t))
}
