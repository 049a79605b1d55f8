package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/convo/dbopen"
	"github.com/hazyhaar/convo/idgen"
)

// Schema defines the user record tables. The three log tables are
// append-only: rows are only ever inserted, one INSERT per append, so a log
// append is atomic and concurrent appends from the same user interleave
// without overwriting each other.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    identity     TEXT PRIMARY KEY,
    display_name TEXT NOT NULL DEFAULT '',
    handle       TEXT NOT NULL DEFAULT '',
    phone        TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS searches (
    id            TEXT PRIMARY KEY,
    identity      TEXT NOT NULL REFERENCES users(identity),
    query         TEXT NOT NULL,
    results_count INTEGER NOT NULL,
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_searches_identity ON searches(identity, created_at);

CREATE TABLE IF NOT EXISTS chats (
    id           TEXT PRIMARY KEY,
    identity     TEXT NOT NULL REFERENCES users(identity),
    user_message TEXT NOT NULL,
    bot_response TEXT NOT NULL,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_identity ON chats(identity, created_at);

CREATE TABLE IF NOT EXISTS files (
    id         TEXT PRIMARY KEY,
    identity   TEXT NOT NULL REFERENCES users(identity),
    file_ref   TEXT NOT NULL,
    file_name  TEXT NOT NULL DEFAULT '',
    file_type  TEXT NOT NULL,
    analysis   TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_identity ON files(identity, created_at);
`

// DB is the SQLite-backed UserStore and Exporter.
type DB struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithIDGenerator sets a custom ID generator for log row IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *DB) { s.newID = gen }
}

// WithClock sets a custom clock (for testing).
func WithClock(fn func() time.Time) Option {
	return func(s *DB) { s.now = fn }
}

// New creates a store backed by the given database and applies the schema.
func New(db *sql.DB, opts ...Option) (*DB, error) {
	s := &DB{
		db:    db,
		newID: idgen.Default,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return s, nil
}

// Open opens (or creates) the store database at path with production-safe
// pragmas and applies the schema.
func Open(path string, opts ...Option) (*DB, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *DB) Close() error {
	return s.db.Close()
}

// FindUser returns the user record for identity, without activity logs.
func (s *DB) FindUser(ctx context.Context, identity string) (*User, error) {
	var u User
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, display_name, handle, phone, created_at FROM users WHERE identity = ?`,
		identity).Scan(&u.Identity, &u.DisplayName, &u.Handle, &u.Phone, &created)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find user: %w", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// InsertUser creates a new user record.
func (s *DB) InsertUser(ctx context.Context, u *User) error {
	created := u.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO users (identity, display_name, handle, phone, created_at) VALUES (?,?,?,?,?)`,
		u.Identity, u.DisplayName, u.Handle, u.Phone, created.Unix())
	if err != nil {
		return fmt.Errorf("store: insert user %s: %w", u.Identity, err)
	}
	return nil
}

// SetPhone sets the verified contact for identity. Last writer wins, which
// is acceptable for this field only (log appends are always additive).
func (s *DB) SetPhone(ctx context.Context, identity, phone string) error {
	result, err := dbopen.Exec(ctx, s.db,
		`UPDATE users SET phone = ? WHERE identity = ?`, phone, identity)
	if err != nil {
		return fmt.Errorf("store: set phone: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AppendSearch appends one entry to the identity's search log.
func (s *DB) AppendSearch(ctx context.Context, identity string, e SearchEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO searches (id, identity, query, results_count, created_at) VALUES (?,?,?,?,?)`,
		s.newID(), identity, e.Query, e.ResultsCount, created.Unix())
	if err != nil {
		return fmt.Errorf("store: append search: %w", err)
	}
	return nil
}

// AppendChat appends one entry to the identity's chat log.
func (s *DB) AppendChat(ctx context.Context, identity string, e ChatEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO chats (id, identity, user_message, bot_response, created_at) VALUES (?,?,?,?,?)`,
		s.newID(), identity, e.UserMessage, e.BotResponse, created.Unix())
	if err != nil {
		return fmt.Errorf("store: append chat: %w", err)
	}
	return nil
}

// AppendFile appends one entry to the identity's file log.
func (s *DB) AppendFile(ctx context.Context, identity string, e FileEntry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	id := e.ID
	if id == "" {
		id = s.newID()
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO files (id, identity, file_ref, file_name, file_type, analysis, created_at) VALUES (?,?,?,?,?,?,?)`,
		id, identity, e.FileRef, e.FileName, e.FileType, e.Analysis, created.Unix())
	if err != nil {
		return fmt.Errorf("store: append file: %w", err)
	}
	return nil
}

// AllUsers returns every user record with activity logs populated. Logs are
// ordered by insertion time within each user.
func (s *DB) AllUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, display_name, handle, phone, created_at FROM users ORDER BY created_at, identity`)
	if err != nil {
		return nil, fmt.Errorf("store: all users: %w", err)
	}
	defer rows.Close()

	var users []User
	index := make(map[string]int)
	for rows.Next() {
		var u User
		var created int64
		if err := rows.Scan(&u.Identity, &u.DisplayName, &u.Handle, &u.Phone, &created); err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		u.CreatedAt = time.Unix(created, 0).UTC()
		index[u.Identity] = len(users)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: users rows: %w", err)
	}

	if err := s.loadSearches(ctx, users, index); err != nil {
		return nil, err
	}
	if err := s.loadChats(ctx, users, index); err != nil {
		return nil, err
	}
	if err := s.loadFiles(ctx, users, index); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *DB) loadSearches(ctx context.Context, users []User, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, query, results_count, created_at FROM searches ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("store: load searches: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var identity string
		var e SearchEntry
		var created int64
		if err := rows.Scan(&identity, &e.Query, &e.ResultsCount, &created); err != nil {
			return fmt.Errorf("store: scan search: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		if i, ok := index[identity]; ok {
			users[i].Searches = append(users[i].Searches, e)
		}
	}
	return rows.Err()
}

func (s *DB) loadChats(ctx context.Context, users []User, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, user_message, bot_response, created_at FROM chats ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("store: load chats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var identity string
		var e ChatEntry
		var created int64
		if err := rows.Scan(&identity, &e.UserMessage, &e.BotResponse, &created); err != nil {
			return fmt.Errorf("store: scan chat: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		if i, ok := index[identity]; ok {
			users[i].Chats = append(users[i].Chats, e)
		}
	}
	return rows.Err()
}

func (s *DB) loadFiles(ctx context.Context, users []User, index map[string]int) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, id, file_ref, file_name, file_type, analysis, created_at FROM files ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("store: load files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var identity string
		var e FileEntry
		var created int64
		if err := rows.Scan(&identity, &e.ID, &e.FileRef, &e.FileName, &e.FileType, &e.Analysis, &created); err != nil {
			return fmt.Errorf("store: scan file: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0).UTC()
		if i, ok := index[identity]; ok {
			users[i].Files = append(users[i].Files, e)
		}
	}
	return rows.Err()
}
