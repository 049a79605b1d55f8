package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig is the per-channel JSON config for Telegram connections.
type TelegramConfig struct {
	// BotToken is the Telegram bot API token (from @BotFather).
	BotToken string `json:"bot_token"`
	// PollTimeout is the long-poll timeout in seconds (default 30).
	PollTimeout int `json:"poll_timeout,omitempty"`
	// Debug enables the bot API library's request logging.
	Debug bool `json:"debug,omitempty"`
}

// TelegramFactory returns a ChannelFactory for Telegram bot connections
// using the bot API with long-polling.
//
// Config example:
//
//	{"bot_token": "123456:ABC-DEF"}
func TelegramFactory() ChannelFactory {
	return func(name string, config json.RawMessage) (Channel, error) {
		var cfg TelegramConfig
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("telegram: parse config: %w", err)
		}
		if cfg.BotToken == "" {
			return nil, fmt.Errorf("telegram: bot_token is required")
		}
		if cfg.PollTimeout <= 0 {
			cfg.PollTimeout = 30
		}
		bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram: connect bot api: %w", err)
		}
		bot.Debug = cfg.Debug
		return newTelegramChannel(name, cfg, bot), nil
	}
}

// telegramChannel implements Channel for Telegram bots.
type telegramChannel struct {
	name   string
	config TelegramConfig
	bot    *tgbotapi.BotAPI
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	status ChannelStatus
}

func newTelegramChannel(name string, cfg TelegramConfig, bot *tgbotapi.BotAPI) *telegramChannel {
	return &telegramChannel{
		name:   name,
		config: cfg,
		bot:    bot,
		logger: slog.Default(),
		status: ChannelStatus{
			Connected: true,
			Platform:  "telegram",
			AuthState: "authenticated",
		},
	}
}

func (c *telegramChannel) Listen(ctx context.Context) <-chan Message {
	out := make(chan Message)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.config.PollTimeout
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				msg, err := c.convert(update.Message)
				if err != nil {
					c.logger.Warn("telegram: skip update",
						"channel", c.name, "update", update.UpdateID, "error", err)
					continue
				}
				select {
				case out <- msg:
					c.touch()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// convert maps a Telegram message to the platform-neutral Message.
// Photos arrive as a size ladder; only the largest rendition is kept.
func (c *telegramChannel) convert(m *tgbotapi.Message) (Message, error) {
	if m.From == nil {
		return Message{}, fmt.Errorf("message %d has no sender", m.MessageID)
	}
	msg := Message{
		ID:          strconv.Itoa(m.MessageID),
		ChannelName: c.name,
		Platform:    "telegram",
		Direction:   Inbound,
		SenderID:    strconv.FormatInt(m.From.ID, 10),
		SenderName:  m.From.FirstName,
		Text:        m.Text,
		Timestamp:   m.Time(),
	}
	if m.From.UserName != "" {
		msg.SenderHandle = "@" + m.From.UserName
	}
	if m.Contact != nil {
		msg.Contact = &Contact{
			PhoneNumber: m.Contact.PhoneNumber,
			FirstName:   m.Contact.FirstName,
			LastName:    m.Contact.LastName,
		}
	}
	if len(m.Photo) > 0 {
		best := m.Photo[len(m.Photo)-1]
		url, err := c.bot.GetFileDirectURL(best.FileID)
		if err != nil {
			return Message{}, fmt.Errorf("resolve photo url: %w", err)
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			Ref:      best.FileID,
			Type:     "image",
			MimeType: "image/jpeg",
			URL:      url,
			Caption:  m.Caption,
		})
	}
	if m.Document != nil {
		att := Attachment{
			Ref:      m.Document.FileID,
			Type:     "document",
			Filename: m.Document.FileName,
			MimeType: m.Document.MimeType,
			Caption:  m.Caption,
		}
		if url, err := c.bot.GetFileDirectURL(m.Document.FileID); err == nil {
			att.URL = url
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, nil
}

func (c *telegramChannel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &ErrSendFailed{Channel: c.name, Platform: "telegram",
			Cause: fmt.Errorf("channel closed")}
	}
	c.mu.Unlock()

	chatID, err := strconv.ParseInt(msg.RecipientID, 10, 64)
	if err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "telegram",
			Cause: fmt.Errorf("bad recipient %q: %w", msg.RecipientID, err)}
	}
	out := tgbotapi.NewMessage(chatID, msg.Text)
	if _, err := c.bot.Send(out); err != nil {
		return &ErrSendFailed{Channel: c.name, Platform: "telegram", Cause: err}
	}
	c.touch()
	return nil
}

func (c *telegramChannel) touch() {
	c.mu.Lock()
	c.status.LastMessage = time.Now()
	c.mu.Unlock()
}

func (c *telegramChannel) Status() ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *telegramChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.bot.StopReceivingUpdates()
	c.status.Connected = false
	c.status.AuthState = "disconnected"
	return nil
}
