package flow

import (
	"context"

	"github.com/hazyhaar/convo/channels"
	"github.com/hazyhaar/convo/render"
	"github.com/hazyhaar/convo/store"
)

const (
	noticeChatStart = "You can now chat with me! Send your message or /end to finish."
	noticeChatEnded = "Chat ended. You can start a new chat with /chat"
	noticeChatError = "Sorry, I encountered an error. Please try again."
)

func (e *Engine) chatSpec() *flowSpec {
	return &flowSpec{
		flow:    FlowChat,
		trigger: "/chat",
		enter:   e.enterChat,
		states: map[State]handlerFunc{
			StateAwaitingMessage: e.handleChatMessage,
		},
		fallbacks: map[string]handlerFunc{
			"/end": e.endChat,
		},
		reprompt: noticeChatStart,
	}
}

// enterChat handles /chat. Unregistered users are bounced back to /start
// without entering the flow.
func (e *Engine) enterChat(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	if !u.Registered() {
		return Session{}, []string{noticeNotRegistered}, nil
	}
	return Session{Flow: FlowChat, State: StateAwaitingMessage},
		[]string{noticeChatStart}, nil
}

// endChat terminates the chat flow. The terminating /end is never logged as
// a chat turn.
func (e *Engine) endChat(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	e.record(ctx, u.Identity, Session{Flow: FlowChat, State: StateAwaitingMessage}, "chat_ended", true)
	return Session{}, []string{noticeChatEnded}, nil
}

// handleChatMessage runs one chat turn. A turn is logged only when the model
// produced a response; failures apologize and leave both the log and the
// session untouched so the user can simply resend.
func (e *Engine) handleChatMessage(ctx context.Context, u *store.User, msg channels.Message) (Session, []string, error) {
	stay := Session{Flow: FlowChat, State: StateAwaitingMessage}

	response, err := e.ai.Converse(ctx, msg.Text)
	if err != nil {
		e.logger.WarnContext(ctx, "chat response failed",
			"identity", u.Identity, "error", err)
		e.record(ctx, u.Identity, stay, "ai_failure", false)
		return stay, []string{noticeChatError}, nil
	}
	response = render.Clean(response)

	entry := store.ChatEntry{UserMessage: msg.Text, BotResponse: response}
	if err := e.store.AppendChat(ctx, u.Identity, entry); err != nil {
		return stay, nil, err
	}

	return stay, []string{response}, nil
}
