package observability

import "database/sql"

// Schema contains the DDL for the observability tables: the flow event log
// and worker heartbeats. Keep it in its own database file so retention
// cleanup and VACUUM never contend with user-facing writes.
const Schema = `
-- Flow Events
CREATE TABLE IF NOT EXISTS flow_events (
    event_id   TEXT PRIMARY KEY,
    identity   TEXT NOT NULL,
    flow       TEXT NOT NULL,
    state      TEXT NOT NULL,
    action     TEXT NOT NULL,
    success    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_flow_events_identity
    ON flow_events(identity, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_flow_events_action
    ON flow_events(action, created_at DESC);

-- Worker Heartbeats
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    worker_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    worker_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    memory_sys_mb REAL,
    gc_count INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time
    ON worker_heartbeats(worker_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_heartbeats_timestamp
    ON worker_heartbeats(timestamp DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
