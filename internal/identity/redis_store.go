package identity

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "creditlens:session:"

// RedisTokenStore keeps session tokens in Redis with native expiry, so
// sessions survive server restarts and are shared between replicas.
type RedisTokenStore struct {
	client redis.Cmdable
}

// NewRedisTokenStore creates a Redis-backed token store
func NewRedisTokenStore(client redis.Cmdable) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func (r *RedisTokenStore) Put(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	return r.client.Set(ctx, redisKeyPrefix+tokenHash, userID, ttl).Err()
}

func (r *RedisTokenStore) Lookup(ctx context.Context, tokenHash string) (string, error) {
	userID, err := r.client.Get(ctx, redisKeyPrefix+tokenHash).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	return userID, err
}

func (r *RedisTokenStore) Delete(ctx context.Context, tokenHash string) error {
	return r.client.Del(ctx, redisKeyPrefix+tokenHash).Err()
}

// Ping checks Redis connectivity.
func (r *RedisTokenStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
