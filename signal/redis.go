package signal

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// NewRedis is the Redis-backed marker. An empty key falls back to
// DefaultRestartKey.
func NewRedis(client redis.Cmdable, key string, opts ...Option) *KeyValue {
	if key == "" {
		key = DefaultRestartKey
	}
	return NewKeyValue(NewRedisStore(client), key, opts...)
}
