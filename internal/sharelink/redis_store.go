// Package sharelink provides an optional Redis index mapping public share
// tokens to session ids, so rotated links stop resolving immediately and
// the hot token lookup avoids a database round trip.
package sharelink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a token has no cache entry. Callers fall
// back to the store; a cache miss is not authoritative.
var ErrNotFound = errors.New("share token not cached")

// RedisStore implements the share-token index on Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "link:"}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "link:"}
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}

// Put records token → sessionID. Tokens do not expire; they die by
// rotation, not by TTL.
func (s *RedisStore) Put(ctx context.Context, token, sessionID string) error {
	if err := s.client.Set(ctx, s.key(token), sessionID, 0).Err(); err != nil {
		return fmt.Errorf("put share link: %w", err)
	}
	return nil
}

// Lookup resolves a token to its session id.
func (s *RedisStore) Lookup(ctx context.Context, token string) (string, error) {
	sessionID, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup share link: %w", err)
	}
	return sessionID, nil
}

// Rotate atomically drops the superseded token and records the new one.
func (s *RedisStore) Rotate(ctx context.Context, oldToken, newToken, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(oldToken))
	pipe.Set(ctx, s.key(newToken), sessionID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rotate share link: %w", err)
	}
	return nil
}

// Revoke deletes a token's entry.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("revoke share link: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
