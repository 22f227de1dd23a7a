// Package audit records gate events (logins, lockouts, session expiry) to
// one or more sinks. Sink failures are reported to the caller but never
// change the outcome of the operation that produced the event.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	LoginSucceeded EventType = "login_succeeded"
	LoginFailed    EventType = "login_failed"
	LoginBlocked   EventType = "login_blocked"
	LockedOut      EventType = "locked_out"
	LockoutExpired EventType = "lockout_expired"
	LoggedOut      EventType = "logged_out"
	SessionExpired EventType = "session_expired"
	ConfigError    EventType = "config_error"
)

type Event struct {
	ID                string    `json:"id"`
	Type              EventType `json:"type"`
	OccurredAt        time.Time `json:"occurred_at"`
	FailedAttempts    int       `json:"failed_attempts,omitempty"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	ClientIP          string    `json:"client_ip,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	DigestPrefix      string    `json:"digest_prefix,omitempty"`
	WeakToken         bool      `json:"weak_token,omitempty"`
}

// Sink receives audit events.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Name() string
}

type clientKey struct{}

type client struct {
	ip        string
	userAgent string
}

// WithClient attaches the caller's address and user agent to ctx so events
// raised further down carry them.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, client{ip: ip, userAgent: userAgent})
}

// NewEvent builds an event of the given type stamped with a fresh ID and
// the client attached to ctx, if any.
func NewEvent(ctx context.Context, typ EventType, at time.Time) Event {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: at.UTC(),
	}
	if c, ok := ctx.Value(clientKey{}).(client); ok {
		ev.ClientIP = c.ip
		ev.UserAgent = c.userAgent
	}
	return ev
}
