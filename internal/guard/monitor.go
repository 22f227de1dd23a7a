package guard

import (
	"context"
	"time"

	"admin-gate/internal/util"
)

const (
	DefaultLockInterval    = time.Second
	DefaultSessionInterval = time.Minute
)

// Monitor follows the gate state and reports every snapshot it takes.
//
// While locked it re-reads the state once per lock interval so the
// remaining seconds count down. While authenticated it runs CheckSession
// once per session interval. While anonymous no timer runs and the monitor
// waits for a change made through this Guard. Changes written to a shared
// store by another process (a lockout on another replica) are not seen
// until the next local change.
type Monitor struct {
	guard           *Guard
	lockInterval    time.Duration
	sessionInterval time.Duration
	onSnapshot      func(Snapshot)
}

func NewMonitor(g *Guard, lockInterval, sessionInterval time.Duration, onSnapshot func(Snapshot)) *Monitor {
	if lockInterval <= 0 {
		lockInterval = DefaultLockInterval
	}
	if sessionInterval <= 0 {
		sessionInterval = DefaultSessionInterval
	}
	if onSnapshot == nil {
		onSnapshot = func(Snapshot) {}
	}
	return &Monitor{
		guard:           g,
		lockInterval:    lockInterval,
		sessionInterval: sessionInterval,
		onSnapshot:      onSnapshot,
	}
}

// Run blocks until ctx is done. Store errors are logged and retried on the
// session interval.
func (m *Monitor) Run(ctx context.Context) error {
	changes, unsubscribe := m.guard.Subscribe()
	defer unsubscribe()

	var (
		ticker   *time.Ticker
		interval time.Duration
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		snap, err := m.guard.CheckSession(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.guard.logger.Warn("Status check failed", util.ErrorField(err))
		} else {
			m.onSnapshot(snap)
		}

		want := m.intervalFor(snap.State, err)
		if want != interval {
			if ticker != nil {
				ticker.Stop()
				ticker = nil
			}
			if want > 0 {
				ticker = time.NewTicker(want)
			}
			interval = want
		}

		var tick <-chan time.Time
		if ticker != nil {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		case <-tick:
		}
	}
}

func (m *Monitor) intervalFor(state State, err error) time.Duration {
	if err != nil {
		return m.sessionInterval
	}
	switch state {
	case Locked:
		return m.lockInterval
	case Authenticated:
		return m.sessionInterval
	default:
		return 0
	}
}
