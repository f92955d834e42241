package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one Redis hash per console context. Values never expire.
type RedisStore struct {
	client *redis.Client
	hash   string
}

// NewRedisStore constructs a RedisStore scoped to contextID.
func NewRedisStore(client *redis.Client, contextID string) *RedisStore {
	return &RedisStore{client: client, hash: redisHash(contextID)}
}

// RedisFactory returns a Factory producing RedisStores on client.
func RedisFactory(client *redis.Client) Factory {
	return func(contextID string) Store {
		return NewRedisStore(client, contextID)
	}
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.HGet(ctx, s.hash, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: redis get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.HSet(ctx, s.hash, key, value).Err(); err != nil {
		return fmt.Errorf("storage: redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hash, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("storage: redis delete %s: %w", key, err)
	}
	return nil
}

func redisHash(contextID string) string {
	return "ledgerdesk:storage:" + contextID
}

var _ Store = (*RedisStore)(nil)
