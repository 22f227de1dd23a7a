package guard

import (
	"context"
	"errors"
)

var ErrStoreUnavailable = errors.New("session store unavailable")

// Store is the string-keyed store holding the gate records. It offers no
// transactions; concurrent writers race and the last write wins.
type Store interface {
	// Get returns the value for key; found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes keys; absent keys are not an error.
	Remove(ctx context.Context, keys ...string) error
}

// Digester derives the value persisted in place of the session token.
type Digester interface {
	Digest(token string) string
}

// Keys names the four records the gate persists.
type Keys struct {
	TokenDigest   string
	SessionExpiry string
	LoginAttempts string
	LockoutUntil  string
}

func KeysWithPrefix(prefix string) Keys {
	return Keys{
		TokenDigest:   prefix + "_auth",
		SessionExpiry: prefix + "_session_expiry",
		LoginAttempts: prefix + "_login_attempts",
		LockoutUntil:  prefix + "_lockout_until",
	}
}
