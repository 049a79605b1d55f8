package flow

import (
	"context"
	"strings"

	"github.com/hazyhaar/convo/channels"
	"github.com/hazyhaar/convo/store"
)

// handlerFunc processes one inbound message for a user and returns the
// session to keep, the reply texts to send, and an error only for
// persistence failures. AI failures are absorbed into apology replies by the
// handlers themselves; a returned error makes the engine discard the session
// change and send a generic notice instead.
type handlerFunc func(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error)

// flowSpec declares one flow: its entry trigger, its per-state handlers, and
// fallback triggers that preempt state handling while inside the flow.
type flowSpec struct {
	flow      Flow
	trigger   string                  // entry command, lowercase ("/start")
	enter     handlerFunc             // runs on the entry trigger from idle
	states    map[State]handlerFunc   // in-flow text handling by state
	fallbacks map[string]handlerFunc  // in-flow commands checked before states
	reprompt  string                  // sent when a state has no handler
}

// registry holds the flows in declaration order. Order matters for entry
// dispatch: registration is declared first so /start wins even for users the
// other gates would bounce.
type registry struct {
	specs  []*flowSpec
	byFlow map[Flow]*flowSpec
}

func newRegistry(specs ...*flowSpec) *registry {
	r := &registry{byFlow: make(map[Flow]*flowSpec)}
	for _, s := range specs {
		r.specs = append(r.specs, s)
		r.byFlow[s.flow] = s
	}
	return r
}

// entry returns the flow whose trigger matches the message's leading
// command, or nil.
func (r *registry) entry(text string) *flowSpec {
	cmd := command(text)
	if cmd == "" {
		return nil
	}
	for _, s := range r.specs {
		if s.trigger == cmd {
			return s
		}
	}
	return nil
}

// command extracts the lowercased first token of text if it looks like a
// command, else "".
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	return strings.ToLower(fields[0])
}
