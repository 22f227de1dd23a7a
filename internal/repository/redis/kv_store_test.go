package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommands struct {
	data map[string]string
	err  error
	ttls map[string]time.Duration
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCommands) Get(_ context.Context, key string) *goredis.StringCmd {
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeCommands) Set(_ context.Context, key string, value interface{}, exp time.Duration) *goredis.StatusCmd {
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	f.data[key] = value.(string)
	f.ttls[key] = exp
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeCommands) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	if f.err != nil {
		return goredis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

func TestKVStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommands()
	s := &KVStore{client: fake}

	_, found, err := s.Get(ctx, "studio_admin_auth")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "studio_admin_auth", "digest"))
	assert.Equal(t, time.Duration(0), fake.ttls["studio_admin_auth"], "records never expire on their own")

	v, found, err := s.Get(ctx, "studio_admin_auth")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "digest", v)

	require.NoError(t, s.Remove(ctx, "studio_admin_auth", "studio_admin_session_expiry"))
	_, found, _ = s.Get(ctx, "studio_admin_auth")
	assert.False(t, found)

	require.NoError(t, s.Remove(ctx))
}

func TestKVStore_BackendErrors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeCommands()
	fake.err = errors.New("connection refused")
	s := &KVStore{client: fake}

	_, _, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, fake.err)
	assert.ErrorIs(t, s.Set(ctx, "k", "v"), fake.err)
	assert.ErrorIs(t, s.Remove(ctx, "k"), fake.err)
}
