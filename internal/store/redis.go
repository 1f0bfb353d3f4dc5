package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps client state in Redis, for kiosk deployments where the
// device itself holds nothing.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// kvKey returns the namespaced Redis key for a client state key.
func kvKey(key string) string {
	return fmt.Sprintf("carelink:%s", key)
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	defer observe("redis", "get", time.Now())

	value, err := s.client.Get(ctx, kvKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// Set stores a single value.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.SetMany(ctx, map[string][]byte{key: value})
}

// SetMany writes all values inside MULTI/EXEC.
func (s *RedisStore) SetMany(ctx context.Context, values map[string][]byte) error {
	defer observe("redis", "set", time.Now())

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, value := range values {
			pipe.Set(ctx, kvKey(key), value, 0)
		}
		return nil
	})
	return err
}

// Delete removes keys with a single DEL. Missing keys are ignored.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	defer observe("redis", "delete", time.Now())

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = kvKey(k)
	}
	return s.client.Del(ctx, full...).Err()
}
