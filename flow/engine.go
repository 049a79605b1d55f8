package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/convo/channels"
	"github.com/hazyhaar/convo/idgen"
	"github.com/hazyhaar/convo/store"
)

// AI is the generative collaborator the engine depends on. Every method may
// fail at any time; the engine treats failures as recoverable and never lets
// them corrupt session or persisted state.
type AI interface {
	Summarize(ctx context.Context, query string) (string, error)
	Converse(ctx context.Context, message string) (string, error)
	DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Recorder receives business events for the observability log. Implementations
// must not block dispatch; failures are the recorder's problem.
type Recorder interface {
	Record(ctx context.Context, identity string, flow Flow, state State, action string, success bool)
}

// Fetcher downloads an attachment by URL, used for images and PDFs that need
// byte-level inspection. The default fetches over HTTP with a size cap.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

const (
	noticePersistFailure = "Sorry, something went wrong on our side. Please try again."
	noticeHelp           = "Use /start to register, /websearch to search the web, or /chat to talk with me."
)

// maxAttachmentBytes caps attachment downloads (Telegram bot files top out
// at 20MB anyway).
const maxAttachmentBytes = 20 << 20

// Engine is the conversation executor. It implements the
// channels.InboundHandler contract: one inbound message in, zero or more
// reply messages out. All state lives in the Sessions tracker and the store;
// the engine itself is safe for concurrent use across identities.
type Engine struct {
	sessions *Sessions
	registry *registry
	store    store.UserStore
	ai       AI
	recorder Recorder
	logger   *slog.Logger
	fetch    Fetcher
	newID    idgen.Generator
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder sets the business event recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithFetcher overrides the attachment fetcher.
func WithFetcher(f Fetcher) Option {
	return func(e *Engine) { e.fetch = f }
}

// WithIDGenerator sets the generator for file log row IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(e *Engine) { e.newID = gen }
}

// New creates an Engine over the given store and AI collaborator.
func New(st store.UserStore, ai AI, opts ...Option) *Engine {
	e := &Engine{
		sessions: NewSessions(),
		store:    st,
		ai:       ai,
		logger:   slog.Default(),
		fetch:    fetchURL,
		newID:    idgen.Prefixed("fil_", idgen.Default),
	}
	for _, o := range opts {
		o(e)
	}
	e.registry = newRegistry(
		e.registrationSpec(),
		e.websearchSpec(),
		e.chatSpec(),
	)
	return e
}

// Handle processes one inbound message. It satisfies channels.InboundHandler.
//
// Handle never returns an error for collaborator failures: those are turned
// into user-facing notices so the dispatcher keeps the sender's queue moving.
func (e *Engine) Handle(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	if msg.SenderID == "" {
		return nil, nil
	}
	identity := msg.SenderID

	user, err := e.ensureUser(ctx, identity, msg)
	if err != nil {
		e.logger.ErrorContext(ctx, "user lookup failed",
			"identity", identity, "error", err)
		return e.replies(msg, noticePersistFailure), nil
	}

	var (
		sess    Session
		texts   []string
		handErr error
	)
	if len(msg.Attachments) > 0 {
		sess, texts, handErr = e.handleUpload(ctx, user, msg)
	} else {
		sess, texts, handErr = e.dispatchText(ctx, user, msg)
	}
	if handErr != nil {
		// Persistence failure: keep the session exactly as it was so the
		// user can retry the same step.
		e.logger.ErrorContext(ctx, "handler write failed",
			"identity", identity,
			"flow", e.sessions.Get(identity).Flow.String(),
			"error", handErr)
		e.record(ctx, identity, e.sessions.Get(identity), "store_failure", false)
		return e.replies(msg, noticePersistFailure), nil
	}

	e.sessions.Set(identity, sess)
	return e.replies(msg, texts...), nil
}

// dispatchText routes free text through the state machine.
func (e *Engine) dispatchText(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	sess := e.sessions.Get(u.Identity)

	if sess.Idle() {
		if spec := e.registry.entry(msg.Text); spec != nil {
			next, texts, err := spec.enter(ctx, u, msg)
			if err == nil && !next.Idle() {
				e.record(ctx, u.Identity, next, "flow_entered", true)
			}
			return next, texts, err
		}
		return sess, []string{noticeHelp}, nil
	}

	spec := e.registry.byFlow[sess.Flow]
	if cmd := command(msg.Text); cmd != "" {
		if h, ok := spec.fallbacks[cmd]; ok {
			return h(ctx, u, msg)
		}
		// Command literals never reach state handlers: anything that is not
		// a registered fallback re-prompts and stays.
		return sess, []string{spec.reprompt}, nil
	}
	if h, ok := spec.states[sess.State]; ok {
		return h(ctx, u, msg)
	}
	// No handler for this state: re-prompt and stay.
	return sess, []string{spec.reprompt}, nil
}

// ensureUser loads the user record, creating a blank one on first contact.
func (e *Engine) ensureUser(ctx context.Context, identity string, msg channels.Message) (*store.User, error) {
	u, err := e.store.FindUser(ctx, identity)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}
	u = &store.User{
		Identity:    identity,
		DisplayName: msg.SenderName,
		Handle:      msg.SenderHandle,
	}
	if err := e.store.InsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// replies wraps reply texts as outbound messages addressed to the sender.
func (e *Engine) replies(in channels.Message, texts ...string) []channels.Message {
	out := make([]channels.Message, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		out = append(out, channels.Message{
			ChannelName: in.ChannelName,
			Platform:    in.Platform,
			Direction:   channels.Outbound,
			RecipientID: in.SenderID,
			Text:        t,
			Timestamp:   time.Now(),
		})
	}
	return out
}

func (e *Engine) record(ctx context.Context, identity string, sess Session, action string, success bool) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(ctx, identity, sess.Flow, sess.State, action, success)
}

// fetchURL is the default attachment fetcher.
func fetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("flow: build fetch request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flow: fetch attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flow: fetch attachment: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("flow: read attachment: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("flow: attachment exceeds %d bytes", maxAttachmentBytes)
	}
	return data, nil
}
