package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"admin-gate/internal/util"
)

const opTimeout = 3 * time.Second

// commands is the subset of the go-redis client the store needs.
type commands interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// KVStore keeps the gate records as plain Redis strings without expiry;
// the values themselves carry their deadlines.
type KVStore struct {
	client commands
}

func NewKVStore(client goredis.Cmdable) *KVStore {
	return &KVStore{client: client}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		util.Error("Failed to read key", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		util.Error("Failed to write key", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		util.Error("Failed to delete keys", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("redis del: %w", err)
	}
	util.Debug("Keys deleted", zap.Strings("keys", keys))
	return nil
}
