package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/convo/channels"
	"github.com/hazyhaar/convo/dbopen"
	"github.com/hazyhaar/convo/store"
	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// stubAI is a configurable AI collaborator. Unset funcs return fixed text.
type stubAI struct {
	summarize func(ctx context.Context, query string) (string, error)
	converse  func(ctx context.Context, message string) (string, error)
	describe  func(ctx context.Context, data []byte, mimeType string) (string, error)
}

func (a *stubAI) Summarize(ctx context.Context, query string) (string, error) {
	if a.summarize != nil {
		return a.summarize(ctx, query)
	}
	return "summary of " + query, nil
}

func (a *stubAI) Converse(ctx context.Context, message string) (string, error) {
	if a.converse != nil {
		return a.converse(ctx, message)
	}
	return "reply to " + message, nil
}

func (a *stubAI) DescribeImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	if a.describe != nil {
		return a.describe(ctx, data, mimeType)
	}
	return "a picture", nil
}

// failingStore wraps a UserStore and fails selected write operations.
type failingStore struct {
	store.UserStore
	failSetPhone     bool
	failAppendSearch bool
	failAppendChat   bool
	failAppendFile   bool
}

var errStoreDown = errors.New("store down")

func (f *failingStore) SetPhone(ctx context.Context, identity, phone string) error {
	if f.failSetPhone {
		return errStoreDown
	}
	return f.UserStore.SetPhone(ctx, identity, phone)
}

func (f *failingStore) AppendSearch(ctx context.Context, identity string, e store.SearchEntry) error {
	if f.failAppendSearch {
		return errStoreDown
	}
	return f.UserStore.AppendSearch(ctx, identity, e)
}

func (f *failingStore) AppendChat(ctx context.Context, identity string, e store.ChatEntry) error {
	if f.failAppendChat {
		return errStoreDown
	}
	return f.UserStore.AppendChat(ctx, identity, e)
}

func (f *failingStore) AppendFile(ctx context.Context, identity string, e store.FileEntry) error {
	if f.failAppendFile {
		return errStoreDown
	}
	return f.UserStore.AppendFile(ctx, identity, e)
}

func setupStore(t *testing.T) *store.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	st, err := store.New(db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return st
}

func setupEngine(t *testing.T, opts ...Option) (*Engine, *store.DB) {
	t.Helper()
	st := setupStore(t)
	e := New(st, &stubAI{}, opts...)
	return e, st
}

func inbound(sender, text string) channels.Message {
	return channels.Message{
		ChannelName: "tg_main",
		Platform:    "telegram",
		Direction:   channels.Inbound,
		SenderID:    sender,
		SenderName:  "Test",
		Text:        text,
	}
}

// send runs one message through the engine and returns the reply texts.
func send(t *testing.T, e *Engine, msg channels.Message) []string {
	t.Helper()
	out, err := e.Handle(context.Background(), msg)
	if err != nil {
		t.Fatalf("Handle(%q): %v", msg.Text, err)
	}
	texts := make([]string, len(out))
	for i, m := range out {
		if m.Direction != channels.Outbound {
			t.Fatalf("reply %d not outbound", i)
		}
		if m.RecipientID != msg.SenderID {
			t.Fatalf("reply %d addressed to %q, want %q", i, m.RecipientID, msg.SenderID)
		}
		texts[i] = m.Text
	}
	return texts
}

// register walks a user through registration.
func register(t *testing.T, e *Engine, sender string) {
	t.Helper()
	send(t, e, inbound(sender, "/start"))
	replies := send(t, e, inbound(sender, "+14155550123"))
	if len(replies) != 1 || replies[0] != noticeRegDone {
		t.Fatalf("registration failed: %v", replies)
	}
}

// ---------------------------------------------------------------------------
// Sessions tracker
// ---------------------------------------------------------------------------

func TestSessions_DefaultIdle(t *testing.T) {
	s := NewSessions()
	if got := s.Get("nobody"); !got.Idle() {
		t.Fatalf("unknown identity should be idle, got %+v", got)
	}
}

func TestSessions_SetGetClear(t *testing.T) {
	s := NewSessions()
	sess := Session{Flow: FlowChat, State: StateAwaitingMessage}
	s.Set("u1", sess)
	if got := s.Get("u1"); got != sess {
		t.Fatalf("Get = %+v, want %+v", got, sess)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	s.Clear("u1")
	if got := s.Get("u1"); !got.Idle() {
		t.Fatalf("cleared identity should be idle, got %+v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d after clear, want 0", s.Len())
	}
}

func TestSessions_IdentitiesIndependent(t *testing.T) {
	s := NewSessions()
	s.Set("u1", Session{Flow: FlowChat, State: StateAwaitingMessage})
	s.Set("u2", Session{Flow: FlowWebSearch, State: StateAwaitingQuery})
	if s.Get("u1").Flow != FlowChat || s.Get("u2").Flow != FlowWebSearch {
		t.Fatal("sessions leaked between identities")
	}
}

// ---------------------------------------------------------------------------
// Trigger matching
// ---------------------------------------------------------------------------

func TestCommand(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/start", "/start"},
		{"/START", "/start"},
		{"  /Chat  ", "/chat"},
		{"/end now", "/end"},
		{"hello", ""},
		{"", ""},
		{"start", ""},
	}
	for _, tt := range tests {
		if got := command(tt.in); got != tt.want {
			t.Errorf("command(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestRegistration_HappyPath(t *testing.T) {
	e, st := setupEngine(t)

	replies := send(t, e, inbound("u1", "/start"))
	if len(replies) != 1 || replies[0] != noticeRegWelcome {
		t.Fatalf("start replies = %v", replies)
	}

	replies = send(t, e, inbound("u1", "+14155550123"))
	if len(replies) != 1 || replies[0] != noticeRegDone {
		t.Fatalf("phone replies = %v", replies)
	}

	u, err := st.FindUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Phone != "+14155550123" {
		t.Fatalf("phone = %q", u.Phone)
	}
	if !e.sessions.Get("u1").Idle() {
		t.Fatal("session should be idle after registration")
	}
}

func TestRegistration_AlreadyRegistered(t *testing.T) {
	e, _ := setupEngine(t)
	register(t, e, "u1")

	replies := send(t, e, inbound("u1", "/start"))
	if len(replies) != 1 || replies[0] != noticeRegAlready {
		t.Fatalf("replies = %v", replies)
	}
	if !e.sessions.Get("u1").Idle() {
		t.Fatal("already-registered /start must not enter the flow")
	}
}

func TestRegistration_InvalidPhoneIdempotent(t *testing.T) {
	e, st := setupEngine(t)
	send(t, e, inbound("u1", "/start"))

	// Missing plus: same response every time, state unchanged.
	for i := 0; i < 3; i++ {
		replies := send(t, e, inbound("u1", "14155550123"))
		if len(replies) != 1 || replies[0] != noticeRegNoPlus {
			t.Fatalf("attempt %d: replies = %v", i, replies)
		}
	}
	// Plus but too short.
	replies := send(t, e, inbound("u1", "+123"))
	if len(replies) != 1 || replies[0] != noticeRegInvalid {
		t.Fatalf("replies = %v", replies)
	}
	// Plus but non-digits.
	replies = send(t, e, inbound("u1", "+1415555abcd"))
	if len(replies) != 1 || replies[0] != noticeRegInvalid {
		t.Fatalf("replies = %v", replies)
	}

	sess := e.sessions.Get("u1")
	if sess.Flow != FlowRegistration || sess.State != StateAwaitingContact {
		t.Fatalf("session = %+v, want awaiting contact", sess)
	}
	u, _ := st.FindUser(context.Background(), "u1")
	if u.Registered() {
		t.Fatal("invalid attempts must not set a phone")
	}
}

func TestRegistration_ContactShareNormalized(t *testing.T) {
	e, st := setupEngine(t)
	send(t, e, inbound("u1", "/start"))

	msg := inbound("u1", "")
	msg.Contact = &channels.Contact{PhoneNumber: "14155550123"}
	replies := send(t, e, msg)
	if len(replies) != 1 || replies[0] != noticeRegThanks {
		t.Fatalf("replies = %v", replies)
	}

	u, _ := st.FindUser(context.Background(), "u1")
	if u.Phone != "+14155550123" {
		t.Fatalf("phone = %q, want normalized plus prefix", u.Phone)
	}
}

func TestRegistration_SetPhoneFailureKeepsSession(t *testing.T) {
	st := setupStore(t)
	fs := &failingStore{UserStore: st, failSetPhone: true}
	e := New(fs, &stubAI{})

	send(t, e, inbound("u1", "/start"))
	replies := send(t, e, inbound("u1", "+14155550123"))
	if len(replies) != 1 || replies[0] != noticePersistFailure {
		t.Fatalf("replies = %v", replies)
	}
	sess := e.sessions.Get("u1")
	if sess.Flow != FlowRegistration || sess.State != StateAwaitingContact {
		t.Fatalf("session = %+v, want unchanged", sess)
	}
}

// ---------------------------------------------------------------------------
// Websearch
// ---------------------------------------------------------------------------

func TestWebSearch_GateUnregistered(t *testing.T) {
	e, _ := setupEngine(t)

	replies := send(t, e, inbound("u1", "/websearch"))
	if len(replies) != 1 || replies[0] != noticeNotRegistered {
		t.Fatalf("replies = %v", replies)
	}
	if !e.sessions.Get("u1").Idle() {
		t.Fatal("gate bounce must not enter the flow")
	}
}

func TestWebSearch_FullFlow(t *testing.T) {
	e, st := setupEngine(t)
	register(t, e, "u1")

	replies := send(t, e, inbound("u1", "/websearch"))
	if len(replies) != 1 || replies[0] != noticeSearchPrompt {
		t.Fatalf("entry replies = %v", replies)
	}

	replies = send(t, e, inbound("u1", "go concurrency patterns"))
	if len(replies) != 2 {
		t.Fatalf("expected ack + results, got %v", replies)
	}
	if replies[0] != noticeSearching {
		t.Fatalf("first reply = %q", replies[0])
	}
	result := replies[1]
	if !strings.Contains(result, "summary of go concurrency patterns") {
		t.Fatalf("missing summary: %q", result)
	}
	// Exactly three links, fixed order and encoding.
	wantQ := "go+concurrency+patterns"
	for i, frag := range []string{
		"1. General Search: https://www.google.com/search?q=" + wantQ,
		"2. Detailed Search: https://www.google.com/search?q=" + wantQ + "+detailed",
		"3. Tutorial Search: https://www.google.com/search?q=" + wantQ + "+tutorial",
	} {
		if !strings.Contains(result, frag) {
			t.Fatalf("link %d missing: want %q in %q", i+1, frag, result)
		}
	}

	if !e.sessions.Get("u1").Idle() {
		t.Fatal("websearch must terminate after one query")
	}

	users, _ := st.AllUsers(context.Background())
	if len(users) != 1 || len(users[0].Searches) != 1 {
		t.Fatalf("search not logged: %+v", users)
	}
	s := users[0].Searches[0]
	if s.Query != "go concurrency patterns" || s.ResultsCount != 3 {
		t.Fatalf("logged entry = %+v", s)
	}
}

func TestWebSearch_CommandRepromptsNotQueried(t *testing.T) {
	e, st := setupEngine(t)
	register(t, e, "u1")
	send(t, e, inbound("u1", "/websearch"))

	// A command literal inside awaiting_query is never treated as a query.
	replies := send(t, e, inbound("u1", "/start"))
	if len(replies) != 1 || replies[0] != noticeSearchPrompt {
		t.Fatalf("replies = %v", replies)
	}
	got := e.sessions.Get("u1")
	if got.Flow != FlowWebSearch || got.State != StateAwaitingQuery {
		t.Fatalf("session = %+v, want awaiting_query", got)
	}
	users, err := st.AllUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users[0].Searches) != 0 {
		t.Fatalf("command logged as search: %+v", users[0].Searches)
	}
}

func TestWebSearch_AIFailureStillLogs(t *testing.T) {
	st := setupStore(t)
	ai := &stubAI{summarize: func(context.Context, string) (string, error) {
		return "", errors.New("model down")
	}}
	e := New(st, ai)
	register(t, e, "u1")

	send(t, e, inbound("u1", "/websearch"))
	replies := send(t, e, inbound("u1", "rust"))
	if len(replies) != 2 {
		t.Fatalf("replies = %v", replies)
	}
	if !strings.Contains(replies[1], searchSummaryMissing) {
		t.Fatalf("placeholder summary missing: %q", replies[1])
	}
	if !strings.Contains(replies[1], "Tutorial Search") {
		t.Fatalf("links missing on AI failure: %q", replies[1])
	}

	users, _ := st.AllUsers(context.Background())
	if len(users[0].Searches) != 1 {
		t.Fatal("search must be logged even when the summary fails")
	}
	if !e.sessions.Get("u1").Idle() {
		t.Fatal("flow must terminate even when the summary fails")
	}
}

func TestWebSearch_PersistFailureKeepsSession(t *testing.T) {
	st := setupStore(t)
	fs := &failingStore{UserStore: st, failAppendSearch: true}
	e := New(fs, &stubAI{})
	register(t, e, "u1")

	send(t, e, inbound("u1", "/websearch"))
	replies := send(t, e, inbound("u1", "zig"))
	if len(replies) != 1 || replies[0] != noticePersistFailure {
		t.Fatalf("replies = %v", replies)
	}
	sess := e.sessions.Get("u1")
	if sess.Flow != FlowWebSearch || sess.State != StateAwaitingQuery {
		t.Fatalf("session = %+v, want unchanged awaiting query", sess)
	}

	// Retry after the store recovers.
	fs.failAppendSearch = false
	replies = send(t, e, inbound("u1", "zig"))
	if len(replies) != 2 {
		t.Fatalf("retry replies = %v", replies)
	}
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

func TestChat_GateUnregistered(t *testing.T) {
	e, _ := setupEngine(t)
	replies := send(t, e, inbound("u1", "/chat"))
	if len(replies) != 1 || replies[0] != noticeNotRegistered {
		t.Fatalf("replies = %v", replies)
	}
}

func TestChat_TurnLoggedAndStays(t *testing.T) {
	e, st := setupEngine(t)
	register(t, e, "u1")

	replies := send(t, e, inbound("u1", "/chat"))
	if len(replies) != 1 || replies[0] != noticeChatStart {
		t.Fatalf("entry replies = %v", replies)
	}

	replies = send(t, e, inbound("u1", "hello there"))
	if len(replies) != 1 || replies[0] != "reply to hello there" {
		t.Fatalf("turn replies = %v", replies)
	}

	sess := e.sessions.Get("u1")
	if sess.Flow != FlowChat || sess.State != StateAwaitingMessage {
		t.Fatalf("session = %+v, chat must stay open", sess)
	}

	users, _ := st.AllUsers(context.Background())
	if len(users[0].Chats) != 1 {
		t.Fatalf("chat turn not logged: %+v", users[0].Chats)
	}
	c := users[0].Chats[0]
	if c.UserMessage != "hello there" || c.BotResponse != "reply to hello there" {
		t.Fatalf("logged turn = %+v", c)
	}
}

func TestChat_EndCaseInsensitiveNoLog(t *testing.T) {
	e, st := setupEngine(t)
	register(t, e, "u1")
	send(t, e, inbound("u1", "/chat"))

	replies := send(t, e, inbound("u1", "/END"))
	if len(replies) != 1 || replies[0] != noticeChatEnded {
		t.Fatalf("replies = %v", replies)
	}
	if !e.sessions.Get("u1").Idle() {
		t.Fatal("/end must terminate the chat")
	}

	users, _ := st.AllUsers(context.Background())
	if len(users[0].Chats) != 0 {
		t.Fatal("the terminating /end must not be logged as a turn")
	}
}

func TestChat_CommandRepromptsNotConversed(t *testing.T) {
	e, st := setupEngine(t)
	register(t, e, "u1")
	send(t, e, inbound("u1", "/chat"))

	replies := send(t, e, inbound("u1", "/websearch"))
	if len(replies) != 1 || replies[0] != noticeChatStart {
		t.Fatalf("replies = %v", replies)
	}
	got := e.sessions.Get("u1")
	if got.Flow != FlowChat || got.State != StateAwaitingMessage {
		t.Fatalf("session = %+v, want chat", got)
	}
	users, err := st.AllUsers(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(users[0].Chats) != 0 {
		t.Fatalf("command logged as chat turn: %+v", users[0].Chats)
	}

	// /end still works as the registered fallback.
	replies = send(t, e, inbound("u1", "/end"))
	if len(replies) != 1 || replies[0] != noticeChatEnded {
		t.Fatalf("end replies = %v", replies)
	}
}

func TestChat_AIFailureNoLogStays(t *testing.T) {
	st := setupStore(t)
	ai := &stubAI{converse: func(context.Context, string) (string, error) {
		return "", errors.New("model down")
	}}
	e := New(st, ai)
	register(t, e, "u1")
	send(t, e, inbound("u1", "/chat"))

	replies := send(t, e, inbound("u1", "hi"))
	if len(replies) != 1 || replies[0] != noticeChatError {
		t.Fatalf("replies = %v", replies)
	}
	sess := e.sessions.Get("u1")
	if sess.Flow != FlowChat || sess.State != StateAwaitingMessage {
		t.Fatalf("session = %+v, want still in chat", sess)
	}
	users, _ := st.AllUsers(context.Background())
	if len(users[0].Chats) != 0 {
		t.Fatal("failed turn must not be logged")
	}
}

func TestChat_PersistFailureKeepsSession(t *testing.T) {
	st := setupStore(t)
	fs := &failingStore{UserStore: st, failAppendChat: true}
	e := New(fs, &stubAI{})
	register(t, e, "u1")
	send(t, e, inbound("u1", "/chat"))

	replies := send(t, e, inbound("u1", "hi"))
	if len(replies) != 1 || replies[0] != noticePersistFailure {
		t.Fatalf("replies = %v", replies)
	}
	sess := e.sessions.Get("u1")
	if sess.Flow != FlowChat {
		t.Fatalf("session = %+v, want still in chat", sess)
	}
}

func TestChat_ResponseCleaned(t *testing.T) {
	st := setupStore(t)
	ai := &stubAI{converse: func(context.Context, string) (string, error) {
		return "<p>Hello <strong>world</strong></p>", nil
	}}
	e := New(st, ai)
	register(t, e, "u1")
	send(t, e, inbound("u1", "/chat"))

	replies := send(t, e, inbound("u1", "hi"))
	if len(replies) != 1 {
		t.Fatalf("replies = %v", replies)
	}
	if strings.Contains(replies[0], "<p>") {
		t.Fatalf("HTML leaked to reply: %q", replies[0])
	}
}

// ---------------------------------------------------------------------------
// Idle dispatch
// ---------------------------------------------------------------------------

// stubRecorder captures business events in arrival order.
type stubRecorder struct {
	events []string
}

func (r *stubRecorder) Record(ctx context.Context, identity string, f Flow, s State, action string, success bool) {
	r.events = append(r.events, fmt.Sprintf("%s/%s/%s/%v", f, s, action, success))
}

func TestRecorder_FlowEnteredOnlyOnActualEntry(t *testing.T) {
	rec := &stubRecorder{}
	e, _ := setupEngine(t, WithRecorder(rec))

	// Gate bounce: unregistered /websearch never enters the flow.
	send(t, e, inbound("u1", "/websearch"))
	for _, ev := range rec.events {
		if strings.Contains(ev, "flow_entered") {
			t.Fatalf("gate bounce recorded as entry: %v", rec.events)
		}
	}

	register(t, e, "u1")

	// Already registered: /start replies without entering registration.
	rec.events = nil
	send(t, e, inbound("u1", "/start"))
	for _, ev := range rec.events {
		if strings.Contains(ev, "flow_entered") {
			t.Fatalf("already-registered /start recorded as entry: %v", rec.events)
		}
	}

	rec.events = nil
	send(t, e, inbound("u1", "/chat"))
	want := "chat/awaiting_message/flow_entered/true"
	found := false
	for _, ev := range rec.events {
		if ev == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("events = %v, want %q", rec.events, want)
	}
}

func TestIdle_UnrecognizedTextGetsHelp(t *testing.T) {
	e, _ := setupEngine(t)
	replies := send(t, e, inbound("u1", "what can you do"))
	if len(replies) != 1 || replies[0] != noticeHelp {
		t.Fatalf("replies = %v", replies)
	}
	if !e.sessions.Get("u1").Idle() {
		t.Fatal("help must not change the session")
	}
}

func TestIdle_FirstContactCreatesUser(t *testing.T) {
	e, st := setupEngine(t)
	msg := inbound("u9", "hello")
	msg.SenderName = "Ada"
	msg.SenderHandle = "@ada"
	send(t, e, msg)

	u, err := st.FindUser(context.Background(), "u9")
	if err != nil {
		t.Fatal(err)
	}
	if u.DisplayName != "Ada" || u.Handle != "@ada" {
		t.Fatalf("user = %+v", u)
	}
}

// ---------------------------------------------------------------------------
// Uploads (ungated)
// ---------------------------------------------------------------------------

func imageMsg(sender string) channels.Message {
	msg := inbound(sender, "")
	msg.Attachments = []channels.Attachment{{
		Type:     "image",
		Ref:      "file123",
		URL:      "http://files.example/file123",
		MimeType: "image/jpeg",
	}}
	return msg
}

func stubFetch(data []byte, err error) Fetcher {
	return func(context.Context, string) ([]byte, error) { return data, err }
}

func TestUpload_UnregisteredPrompted(t *testing.T) {
	e, st := setupEngine(t, WithFetcher(stubFetch([]byte("jpg"), nil)))
	replies := send(t, e, imageMsg("u1"))
	if len(replies) != 1 || replies[0] != noticeNotRegistered {
		t.Fatalf("replies = %v", replies)
	}
	users, _ := st.AllUsers(context.Background())
	if len(users[0].Files) != 0 {
		t.Fatal("unregistered upload must not be logged")
	}
}

func TestUpload_ImageAnalyzedAndLogged(t *testing.T) {
	e, st := setupEngine(t, WithFetcher(stubFetch([]byte("jpg"), nil)))
	register(t, e, "u1")

	replies := send(t, e, imageMsg("u1"))
	if len(replies) != 1 || replies[0] != noticeImagePrefix+"a picture" {
		t.Fatalf("replies = %v", replies)
	}

	users, _ := st.AllUsers(context.Background())
	if len(users[0].Files) != 1 {
		t.Fatalf("file not logged: %+v", users[0].Files)
	}
	f := users[0].Files[0]
	if f.FileRef != "file123" || f.FileType != "image" || f.Analysis != "a picture" {
		t.Fatalf("logged file = %+v", f)
	}
}

func TestUpload_ImageAIFailureNoLog(t *testing.T) {
	st := setupStore(t)
	ai := &stubAI{describe: func(context.Context, []byte, string) (string, error) {
		return "", errors.New("vision down")
	}}
	e := New(st, ai, WithFetcher(stubFetch([]byte("jpg"), nil)))
	register(t, e, "u1")

	replies := send(t, e, imageMsg("u1"))
	if len(replies) != 1 || replies[0] != noticeFileError {
		t.Fatalf("replies = %v", replies)
	}
	users, _ := st.AllUsers(context.Background())
	if len(users[0].Files) != 0 {
		t.Fatal("failed analysis must not be logged")
	}
}

func TestUpload_ImageFetchFailure(t *testing.T) {
	e, _ := setupEngine(t, WithFetcher(stubFetch(nil, errors.New("download failed"))))
	register(t, e, "u1")

	replies := send(t, e, imageMsg("u1"))
	if len(replies) != 1 || replies[0] != noticeFileError {
		t.Fatalf("replies = %v", replies)
	}
}

func TestUpload_DocumentLoggedWithoutAI(t *testing.T) {
	aiCalled := false
	st := setupStore(t)
	ai := &stubAI{describe: func(context.Context, []byte, string) (string, error) {
		aiCalled = true
		return "", nil
	}}
	e := New(st, ai)
	register(t, e, "u1")

	msg := inbound("u1", "")
	msg.Attachments = []channels.Attachment{{
		Type:     "document",
		Ref:      "doc42",
		Filename: "notes.txt",
		MimeType: "text/plain",
	}}
	replies := send(t, e, msg)
	want := fmt.Sprintf(noticeFileReceived, "notes.txt", "text/plain")
	if len(replies) != 1 || replies[0] != want {
		t.Fatalf("replies = %v", replies)
	}
	if aiCalled {
		t.Fatal("documents must not trigger the vision model")
	}

	users, _ := st.AllUsers(context.Background())
	f := users[0].Files[0]
	if f.FileRef != "doc42" || f.FileName != "notes.txt" || f.FileType != "text/plain" {
		t.Fatalf("logged file = %+v", f)
	}
}

func TestUpload_MidFlowDoesNotDisturbSession(t *testing.T) {
	e, _ := setupEngine(t, WithFetcher(stubFetch([]byte("jpg"), nil)))
	register(t, e, "u1")
	send(t, e, inbound("u1", "/chat"))

	send(t, e, imageMsg("u1"))

	sess := e.sessions.Get("u1")
	if sess.Flow != FlowChat || sess.State != StateAwaitingMessage {
		t.Fatalf("session = %+v, upload must not disturb the flow", sess)
	}

	// The next text message still lands in the chat flow.
	replies := send(t, e, inbound("u1", "still here?"))
	if len(replies) != 1 || replies[0] != "reply to still here?" {
		t.Fatalf("replies = %v", replies)
	}
}

func TestUpload_PersistFailureNotice(t *testing.T) {
	st := setupStore(t)
	fs := &failingStore{UserStore: st, failAppendFile: true}
	e := New(fs, &stubAI{}, WithFetcher(stubFetch([]byte("jpg"), nil)))
	register(t, e, "u1")

	replies := send(t, e, imageMsg("u1"))
	if len(replies) != 1 || replies[0] != noticePersistFailure {
		t.Fatalf("replies = %v", replies)
	}
}

// ---------------------------------------------------------------------------
// End-to-end scenario
// ---------------------------------------------------------------------------

func TestScenario_RegisterSearchChat(t *testing.T) {
	e, st := setupEngine(t, WithFetcher(stubFetch([]byte("jpg"), nil)))
	ctx := context.Background()

	// Gate bounces before registration.
	replies := send(t, e, inbound("u1", "/websearch"))
	if replies[0] != noticeNotRegistered {
		t.Fatalf("gate: %v", replies)
	}

	// Register with one bad attempt in between.
	send(t, e, inbound("u1", "/start"))
	send(t, e, inbound("u1", "14155550123"))
	replies = send(t, e, inbound("u1", "+14155550123"))
	if replies[0] != noticeRegDone {
		t.Fatalf("registration: %v", replies)
	}

	// One search.
	send(t, e, inbound("u1", "/websearch"))
	send(t, e, inbound("u1", "sqlite wal mode"))

	// A chat with two turns and a mid-chat image upload.
	send(t, e, inbound("u1", "/chat"))
	send(t, e, inbound("u1", "first"))
	send(t, e, imageMsg("u1"))
	send(t, e, inbound("u1", "second"))
	send(t, e, inbound("u1", "/end"))

	users, err := st.AllUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 {
		t.Fatalf("users = %d", len(users))
	}
	u := users[0]
	if len(u.Searches) != 1 || len(u.Chats) != 2 || len(u.Files) != 1 {
		t.Fatalf("logs = %d searches, %d chats, %d files",
			len(u.Searches), len(u.Chats), len(u.Files))
	}
	if u.Chats[0].UserMessage != "first" || u.Chats[1].UserMessage != "second" {
		t.Fatalf("chat order: %+v", u.Chats)
	}
	if !e.sessions.Get("u1").Idle() {
		t.Fatal("session should be idle at the end")
	}
}
