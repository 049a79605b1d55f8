// Package flow implements the conversation engine: a per-user state machine
// that turns inbound chat messages into flow transitions, collaborator calls
// (AI, persistence) and reply texts.
//
// A user is always either idle or inside exactly one flow. Flows are entered
// by command triggers (/start, /websearch, /chat); once inside, the current
// state decides how free text is interpreted. File uploads bypass the state
// machine entirely and never disturb it.
package flow

// Flow identifies a multi-turn conversation a user can be engaged in.
type Flow int

const (
	FlowNone Flow = iota // idle, not in any flow
	FlowRegistration
	FlowWebSearch
	FlowChat
)

// String returns the flow name used in logs and events.
func (f Flow) String() string {
	switch f {
	case FlowRegistration:
		return "registration"
	case FlowWebSearch:
		return "websearch"
	case FlowChat:
		return "chat"
	default:
		return "none"
	}
}

// State identifies a position within a flow.
type State int

const (
	StateNone State = iota
	StateAwaitingContact // registration: waiting for a phone number
	StateAwaitingQuery   // websearch: waiting for the search query
	StateAwaitingMessage // chat: open-ended conversation
)

// String returns the state name used in logs and events.
func (s State) String() string {
	switch s {
	case StateAwaitingContact:
		return "awaiting_contact"
	case StateAwaitingQuery:
		return "awaiting_query"
	case StateAwaitingMessage:
		return "awaiting_message"
	default:
		return "none"
	}
}

// Session is a user's current position in the conversation state machine.
// The zero value is idle.
type Session struct {
	Flow  Flow
	State State
}

// Idle reports whether the session is outside any flow.
func (s Session) Idle() bool { return s.Flow == FlowNone }
