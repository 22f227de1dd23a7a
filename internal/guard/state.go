package guard

import "time"

// State is the outward-facing state of the admin gate.
type State int

const (
	// Anonymous: no live session and no active lockout.
	Anonymous State = iota
	// Locked: a lockout is active; every login is rejected until it lapses.
	Locked
	// Authenticated: a session exists and has not expired.
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "ANONYMOUS"
	case Locked:
		return "LOCKED"
	case Authenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is the gate state derived from the store at one instant.
type Snapshot struct {
	State                State     `json:"state"`
	RemainingLockSeconds int       `json:"remaining_lock_seconds"`
	FailedAttempts       int       `json:"failed_attempts"`
	MaxAttempts          int       `json:"max_attempts"`
	LockedUntil          time.Time `json:"locked_until,omitzero"`
	SessionExpiresAt     time.Time `json:"session_expires_at,omitzero"`
}

// Reason classifies a login outcome.
type Reason string

const (
	ReasonOK            Reason = "ok"
	ReasonNotConfigured Reason = "not_configured"
	ReasonInvalidSecret Reason = "invalid_secret"
	ReasonLockedOut     Reason = "locked_out"
	ReasonLocked        Reason = "locked"
	ReasonUnavailable   Reason = "unavailable"
)

// Result is the outcome of a login attempt. Token is the raw session token
// and is only set on success; it is never written to the store.
type Result struct {
	Success           bool
	Message           string
	Reason            Reason
	AttemptsRemaining int
	RetryAfterSeconds int
	ExpiresAt         time.Time
	Token             string
	WeakToken         bool
}
