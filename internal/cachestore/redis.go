package cachestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a real Redis-compatible server,
// for production deployments where the hot cache must be shared across
// gateway processes.
type RedisStore struct {
	rdb *redis.Client
}

// RedisOptions mirrors the subset of the Cache Store environment
// configuration the core recognizes (spec §6): host, port, password.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore dials a Redis client eagerly; callers should Ping before
// relying on it in a health check.
func NewRedisStore(opts RedisOptions) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})}
}

// Ping verifies connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	return r.rdb.HSet(ctx, key, field, value).Err()
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) HDel(ctx context.Context, key, field string) error {
	return r.rdb.HDel(ctx, key, field).Err()
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.rdb.HGetAll(ctx, key).Result()
}

func (r *RedisStore) Expire(ctx context.Context, key string, seconds int) error {
	return r.rdb.Expire(ctx, key, time.Duration(seconds)*time.Second).Err()
}

func (r *RedisStore) SetEX(ctx context.Context, key, value string, seconds int) error {
	return r.rdb.Set(ctx, key, value, time.Duration(seconds)*time.Second).Err()
}

func (r *RedisStore) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := r.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}
