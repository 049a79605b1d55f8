// Package store implements the per-user document store backing the
// conversation engine and the analytics dashboard.
//
// Each user record holds identity, optional descriptive fields, the verified
// phone number, and three append-only activity logs (searches, chat turns,
// file events). Log appends are single INSERTs and therefore atomic; entries
// are never mutated or deleted.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned by FindUser for identities that have never
// been inserted.
var ErrUserNotFound = errors.New("store: user not found")

// User is a per-user record. FindUser returns it without the activity logs;
// AllUsers populates them for bulk export.
type User struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name,omitempty"`
	Handle      string `json:"handle,omitempty"`
	// Phone is the verified contact in international format ("+" followed
	// by digits). Empty means the user has not completed registration.
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Searches []SearchEntry `json:"searches,omitempty"`
	Chats    []ChatEntry   `json:"chats,omitempty"`
	Files    []FileEntry   `json:"files,omitempty"`
}

// Registered reports whether the user has a verified phone number.
func (u *User) Registered() bool {
	return u != nil && u.Phone != ""
}

// SearchEntry is one completed websearch.
type SearchEntry struct {
	Query        string    `json:"query"`
	ResultsCount int       `json:"results_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatEntry is one completed chat turn (user message + model response).
type ChatEntry struct {
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileEntry is one file upload event. Analysis is empty for documents that
// were stored without a vision pass.
type FileEntry struct {
	ID        string    `json:"id"`
	FileRef   string    `json:"file_ref"`
	FileName  string    `json:"file_name,omitempty"`
	FileType  string    `json:"file_type"`
	Analysis  string    `json:"analysis,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore is the narrow persistence contract the conversation engine
// depends on. The SQLite implementation in this package satisfies it; tests
// substitute failing wrappers to exercise the engine's write-failure paths.
type UserStore interface {
	// FindUser returns the user record for identity, without activity logs.
	// Returns ErrUserNotFound for unknown identities.
	FindUser(ctx context.Context, identity string) (*User, error)

	// InsertUser creates a new user record. The identity must not exist yet.
	InsertUser(ctx context.Context, u *User) error

	// SetPhone sets the verified contact for identity. Last writer wins.
	SetPhone(ctx context.Context, identity, phone string) error

	// AppendSearch appends one entry to the identity's search log.
	AppendSearch(ctx context.Context, identity string, e SearchEntry) error

	// AppendChat appends one entry to the identity's chat log.
	AppendChat(ctx context.Context, identity string, e ChatEntry) error

	// AppendFile appends one entry to the identity's file log.
	AppendFile(ctx context.Context, identity string, e FileEntry) error
}

// Exporter is the read-only bulk contract the dashboard consumes.
type Exporter interface {
	// AllUsers returns every user record with activity logs populated,
	// logs ordered by insertion within each user.
	AllUsers(ctx context.Context) ([]User, error)
}
