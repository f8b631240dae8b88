package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	cached, err := NewCachedStore(&MemoryStore{}, 16)
	require.NoError(t, err)
	t.Cleanup(func() { cached.Close() })

	return map[string]Store{
		"memory": &MemoryStore{},
		"sqlite": sqlite,
		"cached": cached,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Read(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Store(ctx, "k", "v1"))
			v, err := s.Read(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v1", v)

			require.NoError(t, s.Store(ctx, "k", "v2"))
			v, err = s.Read(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v2", v)

			require.NoError(t, s.Delete(ctx, "k"))
			_, err = s.Read(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			// deleting twice is fine
			assert.NoError(t, s.Delete(ctx, "k"))
		})
	}
}

func TestSqliteStorePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	s, err := NewSQLiteStore(path, WithTableName("tokens"))
	require.NoError(t, err)
	require.NoError(t, s.Store(ctx, "health_changes_token_steps", "abc"))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, WithTableName("tokens"))
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Read(ctx, "health_changes_token_steps")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestNewSQLiteStoreInvalidPath(t *testing.T) {
	_, err := NewSQLiteStore("/invalid/path/to/database.db")
	assert.Error(t, err)
}

func TestNewOpenBaoStoreValidation(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		roleID   string
		secretID string
	}{
		{"empty address", "", "role", "secret"},
		{"empty role", "http://127.0.0.1:8200", "", "secret"},
		{"empty secret", "http://127.0.0.1:8200", "role", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOpenBaoStore(tt.addr, tt.roleID, tt.secretID, nil)
			assert.Error(t, err)
		})
	}
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	r := NewRedisStore("127.0.0.1:6379", WithKeyPrefix("device-1:"))
	defer r.Close()
	assert.Equal(t, "device-1:health_changes_token_steps", r.key("health_changes_token_steps"))
}
