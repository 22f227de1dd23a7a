// Package guard implements the admin session gate: a shared-secret login
// with attempt counting, timed lockout and session expiry.
//
// The guard keeps no authoritative state in memory. Every operation reads
// the records back from the Store and derives the current State from them,
// clearing expired lockouts and sessions as it finds them. Several
// processes may share one Store; their writes race and the last one wins.
package guard

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"admin-gate/internal/audit"
	"admin-gate/internal/util"
)

const (
	DefaultSessionTimeout  = 30 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 15 * time.Minute

	publishTimeout = 5 * time.Second
)

const (
	msgLoginSuccessful = "Login successful"
	msgNotConfigured   = "Configuration error. Contact administrator."
	msgUnavailable     = "Service temporarily unavailable. Try again later."
)

// Settings are read once at start and never change afterwards.
type Settings struct {
	// Credential is the shared secret. Empty means not configured and every
	// login fails closed.
	Credential      string
	SessionTimeout  time.Duration
	MaxAttempts     int
	LockoutDuration time.Duration
	KeyPrefix       string
}

type Guard struct {
	store    Store
	digester Digester
	tokens   *TokenSource
	sink     audit.Sink
	logger   *zap.Logger
	now      func() time.Time

	credential      string
	sessionTimeout  time.Duration
	maxAttempts     int
	lockoutDuration time.Duration
	keys            Keys

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

type Option func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

func WithAuditSink(sink audit.Sink) Option {
	return func(g *Guard) {
		if sink != nil {
			g.sink = sink
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithTokenSource(tokens *TokenSource) Option {
	return func(g *Guard) {
		if tokens != nil {
			g.tokens = tokens
		}
	}
}

// New builds a guard over store. Zero values in settings fall back to the
// package defaults.
func New(store Store, digester Digester, settings Settings, opts ...Option) *Guard {
	g := &Guard{
		store:           store,
		digester:        digester,
		tokens:          NewTokenSource(false),
		sink:            audit.NopSink{},
		logger:          util.Get(),
		now:             time.Now,
		credential:      settings.Credential,
		sessionTimeout:  settings.SessionTimeout,
		maxAttempts:     settings.MaxAttempts,
		lockoutDuration: settings.LockoutDuration,
		subs:            make(map[chan struct{}]struct{}),
	}
	if g.sessionTimeout <= 0 {
		g.sessionTimeout = DefaultSessionTimeout
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = DefaultMaxAttempts
	}
	if g.lockoutDuration <= 0 {
		g.lockoutDuration = DefaultLockoutDuration
	}
	prefix := settings.KeyPrefix
	if prefix == "" {
		prefix = "studio_admin"
	}
	g.keys = KeysWithPrefix(prefix)

	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Login checks secret against the configured credential.
func (g *Guard) Login(ctx context.Context, secret string) Result {
	now := g.now()

	// An active lockout rejects everything and is not counted.
	until, locked, err := g.activeLockout(ctx, now)
	if err != nil {
		return g.unavailable("read lockout", err)
	}
	if locked {
		secs := remainingSeconds(until, now)
		ev := audit.NewEvent(ctx, audit.LoginBlocked, now)
		ev.RetryAfterSeconds = secs
		g.publish(ctx, ev)
		return Result{
			Reason:            ReasonLocked,
			Message:           fmt.Sprintf("Account locked. Try again in %d seconds.", secs),
			RetryAfterSeconds: secs,
		}
	}

	if g.credential == "" {
		g.logger.Error("Admin password not configured")
		g.publish(ctx, audit.NewEvent(ctx, audit.ConfigError, now))
		return Result{Reason: ReasonNotConfigured, Message: msgNotConfigured}
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(g.credential)) != 1 {
		return g.recordFailure(ctx, now)
	}
	return g.startSession(ctx, now)
}

func (g *Guard) recordFailure(ctx context.Context, now time.Time) Result {
	attempts, err := g.attempts(ctx)
	if err != nil {
		return g.unavailable("read attempts", err)
	}
	attempts++

	if err := g.store.Set(ctx, g.keys.LoginAttempts, strconv.Itoa(attempts)); err != nil {
		return g.unavailable("write attempts", err)
	}

	if attempts >= g.maxAttempts {
		until := now.Add(g.lockoutDuration)
		if err := g.store.Set(ctx, g.keys.LockoutUntil, formatMillis(until)); err != nil {
			return g.unavailable("write lockout", err)
		}
		secs := remainingSeconds(until, now)

		g.logger.Warn("Login locked out",
			util.Int("failed_attempts", attempts),
			util.Duration("lockout", g.lockoutDuration),
			util.Time("until", until),
		)
		ev := audit.NewEvent(ctx, audit.LockedOut, now)
		ev.FailedAttempts = attempts
		ev.RetryAfterSeconds = secs
		g.publish(ctx, ev)
		g.notify()

		return Result{
			Reason:            ReasonLockedOut,
			Message:           fmt.Sprintf("Too many failed attempts. Account locked for %s.", formatLockout(g.lockoutDuration)),
			RetryAfterSeconds: secs,
		}
	}

	remaining := g.maxAttempts - attempts
	g.logger.Info("Login failed",
		util.Int("failed_attempts", attempts),
		util.Int("attempts_remaining", remaining),
	)
	ev := audit.NewEvent(ctx, audit.LoginFailed, now)
	ev.FailedAttempts = attempts
	g.publish(ctx, ev)

	return Result{
		Reason:            ReasonInvalidSecret,
		Message:           fmt.Sprintf("Invalid password. %d %s remaining.", remaining, plural(remaining, "attempt")),
		AttemptsRemaining: remaining,
	}
}

func (g *Guard) startSession(ctx context.Context, now time.Time) Result {
	token, weak, err := g.tokens.Generate()
	if err != nil {
		return g.unavailable("generate session token", err)
	}
	if weak {
		g.logger.Warn("Session token generated from weak random source; token is predictable")
	}

	digest := g.digester.Digest(token)
	expiresAt := now.Add(g.sessionTimeout)

	if err := g.store.Set(ctx, g.keys.TokenDigest, digest); err != nil {
		return g.unavailable("write session", err)
	}
	if err := g.store.Set(ctx, g.keys.SessionExpiry, formatMillis(expiresAt)); err != nil {
		return g.unavailable("write session expiry", err)
	}
	if err := g.store.Remove(ctx, g.keys.LoginAttempts, g.keys.LockoutUntil); err != nil {
		return g.unavailable("clear attempts", err)
	}

	g.logger.Info("Login succeeded",
		util.Digest("digest", digest),
		util.Time("expires_at", expiresAt),
		util.Bool("weak_token", weak),
	)
	ev := audit.NewEvent(ctx, audit.LoginSucceeded, now)
	ev.DigestPrefix = digestPrefix(digest)
	ev.WeakToken = weak
	g.publish(ctx, ev)
	g.notify()

	return Result{
		Success:   true,
		Reason:    ReasonOK,
		Message:   msgLoginSuccessful,
		ExpiresAt: expiresAt,
		Token:     token,
		WeakToken: weak,
	}
}

// Logout removes the session records. Calling it without a session is fine.
func (g *Guard) Logout(ctx context.Context) error {
	if err := g.store.Remove(ctx, g.keys.TokenDigest, g.keys.SessionExpiry); err != nil {
		g.logger.Error("Failed to clear session", util.ErrorField(err))
		return fmt.Errorf("%w: clear session: %v", ErrStoreUnavailable, err)
	}
	g.logger.Info("Logged out")
	g.publish(ctx, audit.NewEvent(ctx, audit.LoggedOut, g.now()))
	g.notify()
	return nil
}

// Status derives the current snapshot from the store, clearing a lapsed
// lockout or an expired session on the way.
func (g *Guard) Status(ctx context.Context) (Snapshot, error) {
	now := g.now()
	snap := Snapshot{State: Anonymous, MaxAttempts: g.maxAttempts}

	until, locked, err := g.activeLockout(ctx, now)
	if err != nil {
		return snap, err
	}

	attempts, err := g.attempts(ctx)
	if err != nil {
		return snap, err
	}
	snap.FailedAttempts = attempts

	if locked {
		snap.State = Locked
		snap.LockedUntil = until
		snap.RemainingLockSeconds = remainingSeconds(until, now)
		return snap, nil
	}

	expiresAt, _, ok, err := g.activeSession(ctx, now)
	if err != nil {
		return snap, err
	}
	if ok {
		snap.State = Authenticated
		snap.SessionExpiresAt = expiresAt
	}
	return snap, nil
}

// CheckSession is the liveness check run periodically while authenticated.
func (g *Guard) CheckSession(ctx context.Context) (Snapshot, error) {
	snap, err := g.Status(ctx)
	if err != nil {
		return snap, err
	}
	g.logger.Debug("Session check",
		util.String("state", snap.State.String()),
		util.Time("expires_at", snap.SessionExpiresAt),
	)
	return snap, nil
}

// Authorize reports whether token belongs to the live session.
func (g *Guard) Authorize(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	now := g.now()

	_, locked, err := g.activeLockout(ctx, now)
	if err != nil {
		return false, err
	}
	if locked {
		return false, nil
	}

	_, digest, ok, err := g.activeSession(ctx, now)
	if err != nil || !ok {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(g.digester.Digest(token)), []byte(digest)) == 1, nil
}

// Subscribe returns a channel signalled whenever this guard changes the
// gate state. The returned func unsubscribes.
func (g *Guard) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	g.subsMu.Lock()
	g.subs[ch] = struct{}{}
	g.subsMu.Unlock()

	return ch, func() {
		g.subsMu.Lock()
		delete(g.subs, ch)
		g.subsMu.Unlock()
	}
}

// MaxAttempts returns the configured attempt limit.
func (g *Guard) MaxAttempts() int {
	return g.maxAttempts
}

// SessionTimeout returns the lifetime granted to new sessions.
func (g *Guard) SessionTimeout() time.Duration {
	return g.sessionTimeout
}

// Configured reports whether a credential is set.
func (g *Guard) Configured() bool {
	return g.credential != ""
}

func (g *Guard) notify() {
	g.subsMu.Lock()
	defer g.subsMu.Unlock()
	for ch := range g.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// activeLockout returns the lockout deadline when one is in force. A lapsed
// lockout is removed together with the attempt counter.
func (g *Guard) activeLockout(ctx context.Context, now time.Time) (time.Time, bool, error) {
	raw, found, err := g.store.Get(ctx, g.keys.LockoutUntil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: read lockout: %v", ErrStoreUnavailable, err)
	}
	if !found {
		return time.Time{}, false, nil
	}

	until, err := parseMillis(raw)
	if err != nil {
		g.logger.Warn("Ignoring corrupt lockout record", util.String("key", g.keys.LockoutUntil))
		return time.Time{}, false, nil
	}
	if now.Before(until) {
		return until, true, nil
	}

	if err := g.store.Remove(ctx, g.keys.LockoutUntil, g.keys.LoginAttempts); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: clear lockout: %v", ErrStoreUnavailable, err)
	}
	g.logger.Info("Lockout expired", util.Time("until", until))
	g.publish(ctx, audit.NewEvent(ctx, audit.LockoutExpired, now))
	g.notify()
	return time.Time{}, false, nil
}

// activeSession returns the expiry and digest of a live session. Expired,
// partial or corrupt session records are removed.
func (g *Guard) activeSession(ctx context.Context, now time.Time) (time.Time, string, bool, error) {
	digest, hasDigest, err := g.store.Get(ctx, g.keys.TokenDigest)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: read session: %v", ErrStoreUnavailable, err)
	}
	rawExpiry, hasExpiry, err := g.store.Get(ctx, g.keys.SessionExpiry)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: read session expiry: %v", ErrStoreUnavailable, err)
	}
	if !hasDigest && !hasExpiry {
		return time.Time{}, "", false, nil
	}

	var expiresAt time.Time
	valid := hasDigest && hasExpiry && digest != ""
	if valid {
		expiresAt, err = parseMillis(rawExpiry)
		valid = err == nil
	}
	if valid && now.Before(expiresAt) {
		return expiresAt, digest, true, nil
	}

	if err := g.store.Remove(ctx, g.keys.TokenDigest, g.keys.SessionExpiry); err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: clear session: %v", ErrStoreUnavailable, err)
	}
	if valid {
		g.logger.Info("Session expired", util.Time("expired_at", expiresAt))
		ev := audit.NewEvent(ctx, audit.SessionExpired, now)
		ev.DigestPrefix = digestPrefix(digest)
		g.publish(ctx, ev)
	} else {
		g.logger.Warn("Discarded incomplete or corrupt session record")
	}
	g.notify()
	return time.Time{}, "", false, nil
}

// attempts reads the failed-attempt counter. Corrupt values count as zero.
func (g *Guard) attempts(ctx context.Context) (int, error) {
	raw, found, err := g.store.Get(ctx, g.keys.LoginAttempts)
	if err != nil {
		return 0, fmt.Errorf("%w: read attempts: %v", ErrStoreUnavailable, err)
	}
	if !found {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		g.logger.Warn("Ignoring corrupt attempt counter", util.String("key", g.keys.LoginAttempts))
		return 0, nil
	}
	return n, nil
}

func (g *Guard) unavailable(op string, err error) Result {
	g.logger.Error("Login aborted", util.String("op", op), util.ErrorField(err))
	return Result{Reason: ReasonUnavailable, Message: msgUnavailable}
}

func (g *Guard) publish(ctx context.Context, ev audit.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := g.sink.Publish(pctx, ev); err != nil {
		g.logger.Warn("Failed to publish audit event",
			util.String("event_type", string(ev.Type)),
			util.ErrorField(err),
		)
	}
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

// remainingSeconds rounds up so a caller never sees 0 while still locked.
func remainingSeconds(until, now time.Time) int {
	d := until.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func formatLockout(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		return fmt.Sprintf("%d %s", m, plural(m, "minute"))
	}
	s := int(math.Ceil(d.Seconds()))
	return fmt.Sprintf("%d %s", s, plural(s, "second"))
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func digestPrefix(digest string) string {
	if len(digest) > 8 {
		return digest[:8]
	}
	return digest
}
