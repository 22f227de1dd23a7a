package audit

import (
	"context"
	"fmt"
	"regexp"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// Execer is satisfied by client.ClickHouseClient.
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// ClickHouseSink appends events to a MergeTree table ordered by time.
type ClickHouseSink struct {
	conn   Execer
	table  string
	insert string
}

func NewClickHouseSink(conn Execer, table string) (*ClickHouseSink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (event_id, event_type, occurred_at, failed_attempts,
		retry_after_seconds, client_ip, user_agent, digest_prefix, weak_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)
	return &ClickHouseSink{conn: conn, table: table, insert: insert}, nil
}

// EnsureTable creates the audit table if it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event_id            String,
		event_type          LowCardinality(String),
		occurred_at         DateTime64(3, 'UTC'),
		failed_attempts     UInt32,
		retry_after_seconds UInt32,
		client_ip           String,
		user_agent          String,
		digest_prefix       String,
		weak_token          Bool
	) ENGINE = MergeTree ORDER BY (occurred_at, event_type)`, s.table)
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create audit table %s: %w", s.table, err)
	}
	return nil
}

func (s *ClickHouseSink) Publish(ctx context.Context, ev Event) error {
	return s.conn.Exec(ctx, s.insert,
		ev.ID,
		string(ev.Type),
		ev.OccurredAt,
		uint32(ev.FailedAttempts),
		uint32(ev.RetryAfterSeconds),
		ev.ClientIP,
		ev.UserAgent,
		ev.DigestPrefix,
		ev.WeakToken,
	)
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }
