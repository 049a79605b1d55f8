package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/convo/dbopen"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

// ---------------------------------------------------------------------------
// Event logging
// ---------------------------------------------------------------------------

func TestLogEvent(t *testing.T) {
	db := setupDB(t)
	l := NewEventLogger(db)
	ctx := context.Background()

	l.LogEvent(ctx, FlowEvent{
		Identity: "u1",
		Flow:     "websearch",
		State:    "awaiting_query",
		Action:   "websearch_completed",
		Success:  true,
	})
	l.LogEvent(ctx, FlowEvent{
		Identity: "u1",
		Flow:     "chat",
		State:    "awaiting_message",
		Action:   "ai_failure",
		Success:  false,
	})

	n, err := l.CountEvents(ctx, "websearch_completed", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	var identity, flow string
	var success int
	err = db.QueryRow(
		`SELECT identity, flow, success FROM flow_events WHERE action = 'ai_failure'`).
		Scan(&identity, &flow, &success)
	if err != nil {
		t.Fatal(err)
	}
	if identity != "u1" || flow != "chat" || success != 0 {
		t.Fatalf("row = %s %s %d", identity, flow, success)
	}
}

func TestLogEvent_CustomIDGenerator(t *testing.T) {
	db := setupDB(t)
	l := NewEventLogger(db, WithEventIDGenerator(func() string { return "evt_fixed" }))

	l.LogEvent(context.Background(), FlowEvent{Identity: "u1", Action: "flow_entered", Success: true})

	var id string
	if err := db.QueryRow(`SELECT event_id FROM flow_events`).Scan(&id); err != nil {
		t.Fatal(err)
	}
	if id != "evt_fixed" {
		t.Fatalf("event_id = %q", id)
	}
}

func TestLogEvent_BadDBDoesNotPanic(t *testing.T) {
	db := dbopen.OpenMemory(t) // schema NOT applied
	l := NewEventLogger(db)
	// Must swallow the error.
	l.LogEvent(context.Background(), FlowEvent{Identity: "u1", Action: "flow_entered"})
}

// ---------------------------------------------------------------------------
// Retention cleanup
// ---------------------------------------------------------------------------

func TestCleanup(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -30).Unix()
	recent := time.Now().Unix()
	db.Exec(`INSERT INTO flow_events (event_id, identity, flow, state, action, success, created_at)
	         VALUES ('e1','u1','chat','awaiting_message','chat_ended',1,?)`, old)
	db.Exec(`INSERT INTO flow_events (event_id, identity, flow, state, action, success, created_at)
	         VALUES ('e2','u1','chat','awaiting_message','chat_ended',1,?)`, recent)
	db.Exec(`INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp)
	         VALUES ('convo','host',1,?)`, old)

	err := Cleanup(ctx, db, RetentionConfig{EventsDays: 7, HeartbeatsDays: 7})
	if err != nil {
		t.Fatal(err)
	}

	var events, beats int
	db.QueryRow(`SELECT COUNT(*) FROM flow_events`).Scan(&events)
	db.QueryRow(`SELECT COUNT(*) FROM worker_heartbeats`).Scan(&beats)
	if events != 1 {
		t.Fatalf("events = %d, want 1", events)
	}
	if beats != 0 {
		t.Fatalf("heartbeats = %d, want 0", beats)
	}
}

func TestCleanup_ZeroDaysKeepsAll(t *testing.T) {
	db := setupDB(t)
	old := time.Now().AddDate(0, 0, -365).Unix()
	db.Exec(`INSERT INTO flow_events (event_id, identity, flow, state, action, success, created_at)
	         VALUES ('e1','u1','chat','awaiting_message','chat_ended',1,?)`, old)

	if err := Cleanup(context.Background(), db, RetentionConfig{}); err != nil {
		t.Fatal(err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM flow_events`).Scan(&n)
	if n != 1 {
		t.Fatalf("events = %d, want 1 (no retention configured)", n)
	}
}

// ---------------------------------------------------------------------------
// Heartbeats
// ---------------------------------------------------------------------------

func TestHeartbeat_WriteAndLatest(t *testing.T) {
	db := setupDB(t)
	hw := NewHeartbeatWriter(db, "convo", time.Minute)

	if err := hw.WriteHeartbeat(); err != nil {
		t.Fatal(err)
	}

	hs, err := LatestHeartbeat(context.Background(), db, "convo", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs == nil {
		t.Fatal("no heartbeat found")
	}
	if !hs.Alive {
		t.Fatal("fresh heartbeat should be alive")
	}
	if hs.GoroutinesCount <= 0 {
		t.Fatalf("goroutines = %d", hs.GoroutinesCount)
	}
}

func TestHeartbeat_LatestNoneRecorded(t *testing.T) {
	db := setupDB(t)
	hs, err := LatestHeartbeat(context.Background(), db, "ghost", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs != nil {
		t.Fatalf("expected nil, got %+v", hs)
	}
}

func TestHeartbeat_Stale(t *testing.T) {
	db := setupDB(t)
	old := time.Now().Add(-10 * time.Minute).Unix()
	db.Exec(`INSERT INTO worker_heartbeats
	         (worker_name, hostname, worker_pid, timestamp, goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count)
	         VALUES ('convo','host',1,?,5,1.0,2.0,1)`, old)

	hs, err := LatestHeartbeat(context.Background(), db, "convo", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs.Alive {
		t.Fatal("10-minute-old heartbeat should be stale")
	}
	if hs.StaleSince == nil {
		t.Fatal("StaleSince should be set for stale heartbeat")
	}
}
