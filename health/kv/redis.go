package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

type RedisStoreOpt func(*RedisStore)

// WithKeyPrefix namespaces every key, e.g. per device or per user.
func WithKeyPrefix(prefix string) RedisStoreOpt {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

func NewRedisStore(addr string, opts ...RedisStoreOpt) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr: addr,
	}), opts...)
}

func NewRedisStoreFromClient(rdb *redis.Client, opts ...RedisStoreOpt) *RedisStore {
	r := &RedisStore{rdb: rdb}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

func (r *RedisStore) Store(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Read(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
