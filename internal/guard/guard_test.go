package guard

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"admin-gate/internal/audit"
	"admin-gate/internal/hashing"
	"admin-gate/internal/repository/memory"
)

const testSecret = "correct horse battery staple"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Publish(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) types() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

// flakyStore fails every call once broken is set.
type flakyStore struct {
	*memory.KVStore
	mu     sync.Mutex
	broken bool
}

var errBackendDown = errors.New("backend down")

func (s *flakyStore) setBroken(b bool) {
	s.mu.Lock()
	s.broken = b
	s.mu.Unlock()
}

func (s *flakyStore) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errBackendDown
	}
	return nil
}

func (s *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.err(); err != nil {
		return "", false, err
	}
	return s.KVStore.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.KVStore.Set(ctx, key, value)
}

func (s *flakyStore) Remove(ctx context.Context, keys ...string) error {
	if err := s.err(); err != nil {
		return err
	}
	return s.KVStore.Remove(ctx, keys...)
}

type fixture struct {
	guard *Guard
	store *flakyStore
	clock *fakeClock
	sink  *recordingSink
	keys  Keys
}

func newFixture(t *testing.T, settings Settings, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: &flakyStore{KVStore: memory.NewKVStore()},
		clock: newFakeClock(),
		sink:  &recordingSink{},
	}
	base := []Option{
		WithClock(f.clock.Now),
		WithAuditSink(f.sink),
		WithLogger(zap.NewNop()),
	}
	f.guard = New(f.store, hashing.NewTokenDigester(hashing.DefaultSeed), settings, append(base, opts...)...)
	f.keys = f.guard.keys
	return f
}

func (f *fixture) value(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, found, err := f.store.KVStore.Get(context.Background(), key)
	require.NoError(t, err)
	return v, found
}

func (f *fixture) put(t *testing.T, key, value string) {
	t.Helper()
	require.NoError(t, f.store.KVStore.Set(context.Background(), key, value))
}

func (f *fixture) status(t *testing.T) Snapshot {
	t.Helper()
	snap, err := f.guard.Status(context.Background())
	require.NoError(t, err)
	return snap
}

func TestNew_Defaults(t *testing.T) {
	g := New(memory.NewKVStore(), hashing.NewTokenDigester(hashing.DefaultSeed), Settings{}, WithLogger(zap.NewNop()))

	assert.Equal(t, DefaultMaxAttempts, g.MaxAttempts())
	assert.Equal(t, DefaultSessionTimeout, g.SessionTimeout())
	assert.Equal(t, DefaultLockoutDuration, g.lockoutDuration)
	assert.Equal(t, "studio_admin_auth", g.keys.TokenDigest)
	assert.Equal(t, "studio_admin_lockout_until", g.keys.LockoutUntil)
	assert.False(t, g.Configured())
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	ctx := context.Background()

	res := f.guard.Login(ctx, testSecret)
	require.True(t, res.Success)
	assert.Equal(t, ReasonOK, res.Reason)
	assert.Equal(t, "Login successful", res.Message)
	assert.Len(t, res.Token, 64)
	assert.False(t, res.WeakToken)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), res.ExpiresAt)

	digest, found := f.value(t, f.keys.TokenDigest)
	require.True(t, found)
	assert.NotEqual(t, res.Token, digest, "raw token must never be persisted")

	expiry, found := f.value(t, f.keys.SessionExpiry)
	require.True(t, found)
	assert.Equal(t, strconv.FormatInt(f.clock.Now().Add(30*time.Minute).UnixMilli(), 10), expiry)

	snap := f.status(t)
	assert.Equal(t, Authenticated, snap.State)
	assert.WithinDuration(t, res.ExpiresAt, snap.SessionExpiresAt, 0)
	assert.Equal(t, []audit.EventType{audit.LoginSucceeded}, f.sink.types())
}

func TestLogin_EachSuccessIssuesNewToken(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	ctx := context.Background()

	first := f.guard.Login(ctx, testSecret)
	second := f.guard.Login(ctx, testSecret)
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.NotEqual(t, first.Token, second.Token)

	ok, err := f.guard.Authorize(ctx, first.Token)
	require.NoError(t, err)
	assert.False(t, ok, "replaced session token must not authorize")
}

func TestLogin_LockoutLifecycle(t *testing.T) {
	f := newFixture(t, Settings{
		Credential:      testSecret,
		MaxAttempts:     3,
		LockoutDuration: time.Minute,
	})
	ctx := context.Background()

	res := f.guard.Login(ctx, "wrong")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInvalidSecret, res.Reason)
	assert.Equal(t, 2, res.AttemptsRemaining)
	assert.Equal(t, "Invalid password. 2 attempts remaining.", res.Message)

	res = f.guard.Login(ctx, "wrong")
	assert.Equal(t, 1, res.AttemptsRemaining)
	assert.Equal(t, "Invalid password. 1 attempt remaining.", res.Message)

	res = f.guard.Login(ctx, "wrong")
	assert.Equal(t, ReasonLockedOut, res.Reason)
	assert.Equal(t, "Too many failed attempts. Account locked for 1 minute.", res.Message)
	assert.Equal(t, 60, res.RetryAfterSeconds)

	snap := f.status(t)
	assert.Equal(t, Locked, snap.State)
	assert.Equal(t, 60, snap.RemainingLockSeconds)
	assert.Equal(t, 3, snap.FailedAttempts)

	// Locked rejects even the right secret and does not count it.
	f.clock.Advance(30 * time.Second)
	res = f.guard.Login(ctx, testSecret)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonLocked, res.Reason)
	assert.Equal(t, 30, res.RetryAfterSeconds)
	assert.Equal(t, "Account locked. Try again in 30 seconds.", res.Message)

	attempts, _ := f.value(t, f.keys.LoginAttempts)
	assert.Equal(t, "3", attempts)

	f.clock.Advance(31 * time.Second)
	snap = f.status(t)
	assert.Equal(t, Anonymous, snap.State)
	assert.Equal(t, 0, snap.FailedAttempts)
	_, found := f.value(t, f.keys.LockoutUntil)
	assert.False(t, found)

	res = f.guard.Login(ctx, testSecret)
	assert.True(t, res.Success)

	assert.Equal(t, []audit.EventType{
		audit.LoginFailed,
		audit.LoginFailed,
		audit.LockedOut,
		audit.LoginBlocked,
		audit.LockoutExpired,
		audit.LoginSucceeded,
	}, f.sink.types())
}

func TestLogin_RemainingSecondsRoundUp(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret, MaxAttempts: 1, LockoutDuration: time.Minute})
	ctx := context.Background()

	f.guard.Login(ctx, "wrong")
	f.clock.Advance(59*time.Second + 500*time.Millisecond)

	snap := f.status(t)
	assert.Equal(t, Locked, snap.State)
	assert.Equal(t, 1, snap.RemainingLockSeconds)
}

func TestLogin_LockoutMessageInSeconds(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret, MaxAttempts: 1, LockoutDuration: 90 * time.Second})

	res := f.guard.Login(context.Background(), "wrong")
	assert.Equal(t, ReasonLockedOut, res.Reason)
	assert.Equal(t, "Too many failed attempts. Account locked for 90 seconds.", res.Message)
}

func TestLogin_SuccessClearsAttempts(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	ctx := context.Background()

	f.guard.Login(ctx, "wrong")
	f.guard.Login(ctx, "wrong")
	require.Equal(t, 2, f.status(t).FailedAttempts)

	require.True(t, f.guard.Login(ctx, testSecret).Success)
	_, found := f.value(t, f.keys.LoginAttempts)
	assert.False(t, found)

	require.NoError(t, f.guard.Logout(ctx))
	res := f.guard.Login(ctx, "wrong")
	assert.Equal(t, 4, res.AttemptsRemaining)
}

func TestLogin_NotConfigured(t *testing.T) {
	f := newFixture(t, Settings{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res := f.guard.Login(ctx, "")
		assert.False(t, res.Success)
		assert.Equal(t, ReasonNotConfigured, res.Reason)
		assert.Equal(t, "Configuration error. Contact administrator.", res.Message)
	}

	_, found := f.value(t, f.keys.LoginAttempts)
	assert.False(t, found, "configuration errors consume no attempts")
	assert.Equal(t, Anonymous, f.status(t).State)
	assert.Contains(t, f.sink.types(), audit.ConfigError)
}

func TestLogin_EmptySecretIsWrong(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})

	res := f.guard.Login(context.Background(), "")
	assert.Equal(t, ReasonInvalidSecret, res.Reason)
	assert.Equal(t, 4, res.AttemptsRemaining)
}

func TestStatus_SessionExpires(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret, SessionTimeout: 10 * time.Minute})
	ctx := context.Background()

	require.True(t, f.guard.Login(ctx, testSecret).Success)

	f.clock.Advance(10*time.Minute - time.Millisecond)
	assert.Equal(t, Authenticated, f.status(t).State)

	f.clock.Advance(time.Millisecond)
	snap, err := f.guard.CheckSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, Anonymous, snap.State)

	_, found := f.value(t, f.keys.TokenDigest)
	assert.False(t, found)
	_, found = f.value(t, f.keys.SessionExpiry)
	assert.False(t, found)
	assert.Contains(t, f.sink.types(), audit.SessionExpired)
}

func TestStatus_LockedTakesPrecedence(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	now := f.clock.Now()

	f.put(t, f.keys.TokenDigest, "abc")
	f.put(t, f.keys.SessionExpiry, formatMillis(now.Add(time.Hour)))
	f.put(t, f.keys.LockoutUntil, formatMillis(now.Add(time.Minute)))

	snap := f.status(t)
	assert.Equal(t, Locked, snap.State)
	assert.Equal(t, 60, snap.RemainingLockSeconds)
}

func TestStatus_CorruptValues(t *testing.T) {
	tests := []struct {
		name string
		key  func(Keys) string
		val  string
	}{
		{"lockout not a number", func(k Keys) string { return k.LockoutUntil }, "soon"},
		{"attempts not a number", func(k Keys) string { return k.LoginAttempts }, "many"},
		{"attempts negative", func(k Keys) string { return k.LoginAttempts }, "-4"},
		{"expiry not a number", func(k Keys) string { return k.SessionExpiry }, "later"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Settings{Credential: testSecret})
			f.put(t, tt.key(f.keys), tt.val)
			if tt.key(f.keys) == f.keys.SessionExpiry {
				f.put(t, f.keys.TokenDigest, "abc")
			}

			snap := f.status(t)
			assert.Equal(t, Anonymous, snap.State)
			assert.Equal(t, 0, snap.FailedAttempts)

			res := f.guard.Login(context.Background(), "wrong")
			assert.Equal(t, ReasonInvalidSecret, res.Reason)
			assert.Equal(t, 4, res.AttemptsRemaining)
		})
	}
}

func TestStatus_PartialSessionIsCleared(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	f.put(t, f.keys.TokenDigest, "abc")

	assert.Equal(t, Anonymous, f.status(t).State)
	_, found := f.value(t, f.keys.TokenDigest)
	assert.False(t, found)
	assert.NotContains(t, f.sink.types(), audit.SessionExpired)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	ctx := context.Background()

	require.NoError(t, f.guard.Logout(ctx), "logout without a session is a no-op")

	require.True(t, f.guard.Login(ctx, testSecret).Success)
	require.NoError(t, f.guard.Logout(ctx))

	assert.Equal(t, Anonymous, f.status(t).State)
	assert.Equal(t, 0, f.store.Len())
}

func TestLogout_KeepsLockout(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret, MaxAttempts: 1})
	ctx := context.Background()

	f.guard.Login(ctx, "wrong")
	require.NoError(t, f.guard.Logout(ctx))
	assert.Equal(t, Locked, f.status(t).State)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	ctx := context.Background()

	ok, err := f.guard.Authorize(ctx, "anything")
	require.NoError(t, err)
	assert.False(t, ok)

	res := f.guard.Login(ctx, testSecret)
	require.True(t, res.Success)

	ok, err = f.guard.Authorize(ctx, res.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = f.guard.Authorize(ctx, res.Token+"x")
	assert.False(t, ok)

	ok, _ = f.guard.Authorize(ctx, "")
	assert.False(t, ok)

	f.clock.Advance(31 * time.Minute)
	ok, err = f.guard.Authorize(ctx, res.Token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	ctx := context.Background()
	f.store.setBroken(true)

	res := f.guard.Login(ctx, testSecret)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonUnavailable, res.Reason)
	assert.Equal(t, "Service temporarily unavailable. Try again later.", res.Message)
	assert.Empty(t, res.Token)

	_, err := f.guard.Status(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	err = f.guard.Logout(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = f.guard.Authorize(ctx, "token")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	f.store.setBroken(false)
	assert.True(t, f.guard.Login(ctx, testSecret).Success)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestLogin_WeakTokenFallback(t *testing.T) {
	weak := NewTokenSource(true)
	weak.strong = brokenReader{}

	f := newFixture(t, Settings{Credential: testSecret}, WithTokenSource(weak))
	res := f.guard.Login(context.Background(), testSecret)
	require.True(t, res.Success)
	assert.True(t, res.WeakToken)
	assert.Len(t, res.Token, 64)

	f.sink.mu.Lock()
	last := f.sink.events[len(f.sink.events)-1]
	f.sink.mu.Unlock()
	assert.True(t, last.WeakToken)
}

func TestLogin_NoStrongRandomFailsClosed(t *testing.T) {
	strict := NewTokenSource(false)
	strict.strong = brokenReader{}

	f := newFixture(t, Settings{Credential: testSecret}, WithTokenSource(strict))
	res := f.guard.Login(context.Background(), testSecret)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonUnavailable, res.Reason)

	_, found := f.value(t, f.keys.TokenDigest)
	assert.False(t, found)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret})
	ctx := context.Background()

	ch, unsubscribe := f.guard.Subscribe()

	require.True(t, f.guard.Login(ctx, testSecret).Success)
	select {
	case <-ch:
	default:
		t.Fatal("expected a change notification after login")
	}

	// Notifications coalesce and never block the guard.
	require.NoError(t, f.guard.Logout(ctx))
	require.NoError(t, f.guard.Logout(ctx))
	assert.Len(t, ch, 1)

	unsubscribe()
	<-ch
	require.NoError(t, f.guard.Logout(ctx))
	assert.Len(t, ch, 0)
}

func TestKeyPrefix(t *testing.T) {
	f := newFixture(t, Settings{Credential: testSecret, KeyPrefix: "studio_b"})
	require.True(t, f.guard.Login(context.Background(), testSecret).Success)

	_, found := f.value(t, "studio_b_auth")
	assert.True(t, found)
	_, found = f.value(t, "studio_admin_auth")
	assert.False(t, found)
}
