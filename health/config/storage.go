package config

import (
	"fmt"
	"log/slog"

	"tangled.sh/tangled.sh/healthsync/health/kv"
)

const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendRedis   = "redis"
	BackendOpenBao = "openbao"
)

type closer interface {
	Close() error
}

// OpenStore builds the key-value store selected by s. The returned close
// function releases the backend and the cache, if any.
func OpenStore(s Storage, l *slog.Logger) (kv.Store, func() error, error) {
	var (
		store kv.Store
		err   error
	)

	switch s.Backend {
	case BackendMemory:
		store = &kv.MemoryStore{}
	case BackendSQLite:
		store, err = kv.NewSQLiteStore(s.DBPath)
	case BackendRedis:
		store = kv.NewRedisStore(s.Redis.Addr, kv.WithKeyPrefix(s.Redis.KeyPrefix))
	case BackendOpenBao:
		store, err = kv.NewOpenBaoStore(
			s.OpenBao.Addr,
			s.OpenBao.RoleID,
			s.OpenBao.SecretID,
			l,
			kv.WithMountPath(s.OpenBao.Mount),
		)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", s.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s storage: %w", s.Backend, err)
	}

	closers := []closer{}
	if c, ok := store.(closer); ok {
		closers = append(closers, c)
	}

	if s.CacheEntries > 0 {
		cached, err := kv.NewCachedStore(store, s.CacheEntries)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, cached)
		store = cached
	}

	return store, func() error { return closeAll(closers) }, nil
}

func closeAll(closers []closer) error {
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
