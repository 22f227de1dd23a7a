package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"admin-gate/internal/util"
)

const opTimeout = 5 * time.Second

// KVStore keeps the gate records in a two-column table keyed by record name.
type KVStore struct {
	client *ScyllaClient
}

func NewKVStore(client *ScyllaClient) *KVStore {
	return &KVStore{client: client}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var value string
	err := s.client.Session.Query(s.client.Prepared.Get, key).WithContext(ctx).Scan(&value)
	if errors.Is(err, gocql.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		util.Error("Failed to read key", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("scylla get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Session.Query(s.client.Prepared.Set, key, value).WithContext(ctx).Exec(); err != nil {
		util.Error("Failed to write key", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("scylla set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Session.Query(s.client.Prepared.Delete, keys).WithContext(ctx).Exec(); err != nil {
		util.Error("Failed to delete keys", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("scylla delete: %w", err)
	}
	return nil
}
