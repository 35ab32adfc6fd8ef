package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyTTL is how long a processed key is remembered
const IdempotencyTTL = 24 * time.Hour

const (
	idempotencyPrefix  = "idempotency:messages:"
	idempotencyPending = "pending"
)

// IdempotencyStore remembers which request keys have been processed
type IdempotencyStore interface {
	// Reserve claims key for processing. It returns false when the key is already taken.
	Reserve(ctx context.Context, key string) (bool, error)
	// Lookup returns the stored result for key, if it has completed
	Lookup(ctx context.Context, key string) (string, bool, error)
	// Complete stores the result for a reserved key
	Complete(ctx context.Context, key, result string) error
	// Release drops a reservation after a failed request
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyStore keeps idempotency keys in Redis with a TTL
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a store backed by client
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) redisKey(key string) string {
	return idempotencyPrefix + key
}

// Reserve claims key with SETNX
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.redisKey(key), idempotencyPending, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Lookup returns the stored result. A key that is still being processed is not complete.
func (s *RedisIdempotencyStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if value == idempotencyPending {
		return "", false, nil
	}
	return value, true, nil
}

// Complete records result for key, keeping the TTL
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, result string) error {
	if err := s.client.Set(ctx, s.redisKey(key), result, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release deletes key so the request can be retried
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
