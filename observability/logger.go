// Package observability records domain-level events and process liveness in
// SQLite, queryable with any SQLite client and cleaned up by retention.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/convo/idgen"
)

// FlowEvent is one domain-level event: a flow transition or a collaborator
// failure, tagged with the conversation position it happened in.
type FlowEvent struct {
	Identity string
	Flow     string
	State    string
	Action   string // "flow_entered", "registration_completed", "ai_failure", ...
	Success  bool
}

// EventLogger writes flow events and manages retention cleanup.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a flow event. Non-blocking: errors are logged via slog
// but do not propagate, so a failing observability store never blocks
// message dispatch.
func (l *EventLogger) LogEvent(ctx context.Context, event FlowEvent) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO flow_events (
			event_id, identity, flow, state, action, success, created_at
		) VALUES (?,?,?,?,?,?,?)`,
		l.newID(), event.Identity, event.Flow, event.State,
		event.Action, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("flow event log failed", "error", err, "action", event.Action)
	}
}

// CountEvents returns the number of recorded events for an action since the
// given time. Used by operator tooling and tests.
func (l *EventLogger) CountEvents(ctx context.Context, action string, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flow_events WHERE action = ? AND created_at >= ?`,
		action, since.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("observability: count events: %w", err)
	}
	return n, nil
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventsDays     int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	type cleanupTarget struct {
		table  string
		column string
		days   int
	}
	targets := []cleanupTarget{
		{"flow_events", "created_at", cfg.EventsDays},
		{"worker_heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
