/*
Package localstore provides the client's durable key-value state.

This file defines RedisStore, an alternative backend for deployments where the
sync client runs on shared infrastructure (for example a kiosk fleet) and the
state must survive the local filesystem. Keys are namespaced per tenant.
*/
package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists the key-value state in Redis.
type RedisStore struct {
	client *redis.Client

	// prefix namespaces every key, typically "shopsync:<tenantID>".
	prefix string
}

// NewRedisStore connects to the Redis instance at addr and verifies the
// connection with a ping before returning.
func NewRedisStore(ctx context.Context, addr, tenantID string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		prefix: "shopsync:" + tenantID,
	}, nil
}

// key returns the namespaced form of a well-known state key.
func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Get returns the value for key and whether the key was present.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}

	return value, true, nil
}

// Set writes the value for key. Stored state carries no TTL: the cart snapshot
// and session identity remain valid until explicitly replaced or cleared.
func (s *RedisStore) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
