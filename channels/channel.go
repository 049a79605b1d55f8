// Package channels provides bidirectional messaging connectors between end
// users and the conversation engine.
//
// A Channel is a long-lived, event-driven connection to a chat platform:
// inbound messages arrive unprompted via Listen, outbound replies are pushed
// back via Send. The Dispatcher owns the set of active channels (driven by a
// SQLite table, hot-reloaded at runtime) and routes every inbound message
// through an InboundHandler — in this repository, the flow engine.
//
//	d := channels.NewDispatcher(engine.Handle, channels.WithLogger(logger))
//	d.RegisterPlatform("telegram", channels.TelegramFactory())
//	go d.Watch(ctx, db, 200*time.Millisecond)
//
// Messages from the same sender are processed strictly in arrival order;
// distinct senders are processed concurrently (see Dispatcher).
package channels

import (
	"context"
	"encoding/json"
	"time"
)

// Direction indicates whether a message is inbound (received from a user)
// or outbound (sent by the system).
type Direction int

const (
	Inbound  Direction = iota // Message received from a platform user.
	Outbound                  // Message sent to a platform user.
)

// String returns "inbound" or "outbound".
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Message is a platform-normalized inbound or outbound message.
// All platform-specific details are stripped; platform-specific metadata
// can be carried in the Metadata map.
type Message struct {
	ID           string            `json:"id"`
	ChannelName  string            `json:"channel"`            // e.g. "tg_main"
	Platform     string            `json:"platform"`           // "telegram", "webhook"
	Direction    Direction         `json:"direction"`          // Inbound or Outbound
	SenderID     string            `json:"sender_id"`          // platform-specific user ID
	RecipientID  string            `json:"recipient_id"`       // platform-specific recipient ID
	SenderName   string            `json:"sender_name,omitempty"`
	SenderHandle string            `json:"sender_handle,omitempty"`
	Text         string            `json:"text"`               // message body
	ReplyTo      string            `json:"reply_to,omitempty"` // ID of message being replied to
	Contact      *Contact          `json:"contact,omitempty"`  // structured contact share
	Attachments  []Attachment      `json:"attachments,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"` // platform-specific extras
	Timestamp    time.Time         `json:"timestamp"`
}

// Contact is a structured contact payload shared through the platform's
// native contact picker (as opposed to a phone number typed as free text).
type Contact struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
}

// Attachment is a media file attached to a message.
type Attachment struct {
	Type     string `json:"type"`               // "image", "audio", "video", "document"
	Ref      string `json:"ref"`                // platform file ID, stable across downloads
	URL      string `json:"url"`                // download URL or local path
	MimeType string `json:"mime_type"`          // e.g. "image/jpeg"
	Caption  string `json:"caption,omitempty"`  // optional caption
	Filename string `json:"filename,omitempty"` // original filename
}

// ChannelStatus describes the current state of a channel connection.
type ChannelStatus struct {
	Connected   bool      `json:"connected"`
	Platform    string    `json:"platform"`
	AuthState   string    `json:"auth_state"` // "token_valid", "listening", etc.
	LastMessage time.Time `json:"last_message"`
	Error       string    `json:"error,omitempty"`
}

// Channel is a bidirectional connection to a messaging platform.
// Listen returns a channel that emits inbound messages; the channel is closed
// when the context is cancelled or the connection is lost.
// Send pushes an outbound message to the platform.
type Channel interface {
	// Listen returns a read-only channel of inbound messages.
	// The returned channel is closed when ctx is cancelled or Close is called.
	Listen(ctx context.Context) <-chan Message

	// Send pushes an outbound message to the platform.
	Send(ctx context.Context, msg Message) error

	// Status returns the current connection status.
	Status() ChannelStatus

	// Close shuts down the connection and releases resources.
	// After Close, the channel returned by Listen will be closed.
	Close() error
}

// ChannelFactory creates a Channel from a name and JSON config.
// The name is the channel's identifier in the channels table (e.g. "tg_main").
// The config is the per-channel JSON from the config column.
type ChannelFactory func(name string, config json.RawMessage) (Channel, error)

// InboundHandler processes an inbound message and returns zero or more
// outbound response messages. This is the integration point with the
// conversation engine.
//
// The handler may return nil to indicate no response should be sent.
type InboundHandler func(ctx context.Context, msg Message) ([]Message, error)
