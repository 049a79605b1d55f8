package flow

import (
	"context"
	"strings"

	"github.com/hazyhaar/convo/channels"
	"github.com/hazyhaar/convo/store"
)

const (
	noticeRegWelcome = "Welcome! Please share your phone number using the button below or type it in international format (+1234567890):"
	noticeRegAlready = "Welcome back! You're already registered. Use /websearch to start searching."
	noticeRegShare   = "Please share your contact or type your phone number."
	noticeRegNoPlus  = "Please use international format starting with + (e.g., +1234567890)"
	noticeRegInvalid = "Invalid phone number format. Please try again."
	noticeRegDone    = "Registration complete! You can now use /websearch to start searching."
	noticeRegThanks  = "Thank you for registering! You can now use /websearch to start searching."
)

func (e *Engine) registrationSpec() *flowSpec {
	return &flowSpec{
		flow:    FlowRegistration,
		trigger: "/start",
		enter:   e.enterRegistration,
		states: map[State]handlerFunc{
			StateAwaitingContact: e.handleContact,
		},
		fallbacks: map[string]handlerFunc{},
		reprompt:  noticeRegShare,
	}
}

// enterRegistration handles /start. Already-registered users get a
// welcome-back notice without entering the flow.
func (e *Engine) enterRegistration(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	if u.Registered() {
		return Session{}, []string{noticeRegAlready}, nil
	}
	return Session{Flow: FlowRegistration, State: StateAwaitingContact},
		[]string{noticeRegWelcome}, nil
}

// handleContact accepts either a structured contact share or a typed phone
// number. Validation failures re-prompt without leaving the state, so
// retries are idempotent.
func (e *Engine) handleContact(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	stay := Session{Flow: FlowRegistration, State: StateAwaitingContact}

	if msg.Contact != nil {
		phone := strings.TrimSpace(msg.Contact.PhoneNumber)
		if phone == "" {
			return stay, []string{noticeRegShare}, nil
		}
		// Platform contact payloads may omit the leading plus.
		if !strings.HasPrefix(phone, "+") {
			phone = "+" + phone
		}
		if err := e.store.SetPhone(ctx, u.Identity, phone); err != nil {
			return stay, nil, err
		}
		e.record(ctx, u.Identity, stay, "registration_completed", true)
		return Session{}, []string{noticeRegThanks}, nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return stay, []string{noticeRegShare}, nil
	}
	if !strings.HasPrefix(text, "+") {
		return stay, []string{noticeRegNoPlus}, nil
	}
	if !validPhoneDigits(text[1:]) {
		return stay, []string{noticeRegInvalid}, nil
	}
	if err := e.store.SetPhone(ctx, u.Identity, text); err != nil {
		return stay, nil, err
	}
	e.record(ctx, u.Identity, stay, "registration_completed", true)
	return Session{}, []string{noticeRegDone}, nil
}

// validPhoneDigits reports whether s is at least nine characters, all digits.
func validPhoneDigits(s string) bool {
	if len(s) < 9 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
