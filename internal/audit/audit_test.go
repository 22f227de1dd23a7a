package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var at = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type countingSink struct {
	name  string
	err   error
	mu    sync.Mutex
	count int
}

func (s *countingSink) Publish(context.Context, Event) error {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return s.err
}

func (s *countingSink) Name() string { return s.name }

func TestNewEvent(t *testing.T) {
	ctx := WithClient(context.Background(), "203.0.113.7", "curl/8.0")
	ev := NewEvent(ctx, LoginFailed, at)

	_, err := uuid.Parse(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, LoginFailed, ev.Type)
	assert.Equal(t, at, ev.OccurredAt)
	assert.Equal(t, "203.0.113.7", ev.ClientIP)
	assert.Equal(t, "curl/8.0", ev.UserAgent)

	bare := NewEvent(context.Background(), LoggedOut, at)
	assert.Empty(t, bare.ClientIP)
	assert.NotEqual(t, ev.ID, bare.ID)
}

func TestMultiSink_PublishesToAll(t *testing.T) {
	a := &countingSink{name: "a"}
	b := &countingSink{name: "b", err: errors.New("unreachable")}
	c := &countingSink{name: "c"}
	multi := NewMultiSink(a, b, c)

	err := multi.Publish(context.Background(), NewEvent(context.Background(), LoginSucceeded, at))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b sink")
	assert.ErrorIs(t, err, b.err)

	assert.Equal(t, 1, a.count)
	assert.Equal(t, 1, b.count)
	assert.Equal(t, 1, c.count)
	assert.Equal(t, 3, multi.Len())
}

func TestLogSink_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, NewEvent(ctx, LoginSucceeded, at)))
	locked := NewEvent(ctx, LockedOut, at)
	locked.FailedAttempts = 5
	require.NoError(t, sink.Publish(ctx, locked))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(5), entries[1].ContextMap()["failed_attempts"])
}

type fakeProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

func (p *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return nil
}

func TestKafkaSink(t *testing.T) {
	p := &fakeProducer{}
	sink := NewKafkaSink(p, "admin-gate.audit")
	ev := NewEvent(context.Background(), LockedOut, at)
	ev.RetryAfterSeconds = 900

	require.NoError(t, sink.Publish(context.Background(), ev))
	assert.Equal(t, "admin-gate.audit", p.topic)
	assert.Equal(t, "locked_out", string(p.key))
	assert.Equal(t, ev.ID, p.headers["event_id"])

	var decoded Event
	require.NoError(t, json.Unmarshal(p.value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, 900, decoded.RetryAfterSeconds)
}

type fakeIndexer struct {
	index string
	id    string
	doc   interface{}
}

func (f *fakeIndexer) IndexDocument(_ context.Context, index, id string, doc interface{}) error {
	f.index, f.id, f.doc = index, id, doc
	return nil
}

func TestElasticsearchSink(t *testing.T) {
	idx := &fakeIndexer{}
	sink := NewElasticsearchSink(idx, "admin-gate-audit")
	ev := NewEvent(context.Background(), SessionExpired, at)

	require.NoError(t, sink.Publish(context.Background(), ev))
	assert.Equal(t, "admin-gate-audit", idx.index)
	assert.Equal(t, ev.ID, idx.id)
	assert.Equal(t, ev, idx.doc)
}

type fakeExecer struct {
	queries []string
	args    [][]interface{}
}

func (f *fakeExecer) Exec(_ context.Context, query string, args ...interface{}) error {
	f.queries = append(f.queries, query)
	f.args = append(f.args, args)
	return nil
}

func TestClickHouseSink(t *testing.T) {
	conn := &fakeExecer{}
	sink, err := NewClickHouseSink(conn, "audit.admin_gate_audit")
	require.NoError(t, err)

	require.NoError(t, sink.EnsureTable(context.Background()))
	assert.Contains(t, conn.queries[0], "CREATE TABLE IF NOT EXISTS audit.admin_gate_audit")

	ev := NewEvent(context.Background(), LoginFailed, at)
	ev.FailedAttempts = 2
	require.NoError(t, sink.Publish(context.Background(), ev))

	assert.True(t, strings.HasPrefix(conn.queries[1], "INSERT INTO audit.admin_gate_audit"))
	args := conn.args[1]
	require.Len(t, args, 9)
	assert.Equal(t, ev.ID, args[0])
	assert.Equal(t, "login_failed", args[1])
	assert.Equal(t, uint32(2), args[3])
}

func TestClickHouseSink_RejectsBadTable(t *testing.T) {
	_, err := NewClickHouseSink(&fakeExecer{}, "audit; DROP TABLE x")
	assert.Error(t, err)
}
