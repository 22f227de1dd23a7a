package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) error { return nil }
func (NopSink) Name() string                         { return "nop" }

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.FailedAttempts > 0 {
		fields = append(fields, zap.Int("failed_attempts", ev.FailedAttempts))
	}
	if ev.RetryAfterSeconds > 0 {
		fields = append(fields, zap.Int("retry_after_seconds", ev.RetryAfterSeconds))
	}
	if ev.ClientIP != "" {
		fields = append(fields, zap.String("client_ip", ev.ClientIP))
	}
	if ev.DigestPrefix != "" {
		fields = append(fields, zap.String("digest_prefix", ev.DigestPrefix))
	}
	if ev.WeakToken {
		fields = append(fields, zap.Bool("weak_token", true))
	}

	switch ev.Type {
	case LockedOut, ConfigError:
		s.logger.Warn("Audit event", fields...)
	default:
		s.logger.Info("Audit event", fields...)
	}
	return nil
}

func (s *LogSink) Name() string { return "log" }

// MultiSink publishes each event to all sinks concurrently.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish waits for every sink and returns the first error. A failing sink
// does not cancel the others.
func (m *MultiSink) Publish(ctx context.Context, ev Event) error {
	var g errgroup.Group
	for _, sink := range m.sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Publish(ctx, ev); err != nil {
				return fmt.Errorf("%s sink: %w", sink.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *MultiSink) Name() string { return "multi" }

// Len returns the number of wrapped sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}
