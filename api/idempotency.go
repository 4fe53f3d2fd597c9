package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "commit"

// RedisDeduper stores used commit idempotency keys in Redis so a retried
// commit does not rewrite subtask rows that already landed, regardless of
// which instance serves the retry.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(counsellorID, key string) string {
	return fmt.Sprintf("%s:%s:%s", counsellorID, dedupeKeyPrefix, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, counsellorID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(counsellorID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key. It is used when the guarded write
// fails so the next commit attempt re-sends that row.
func (r *RedisDeduper) Remove(ctx context.Context, counsellorID, key string) error {
	return r.client.Del(ctx, r.key(counsellorID, key)).Err()
}
