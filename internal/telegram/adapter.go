// Package telegram is the secondary chat transport. A bot token links one
// deployment to one regiment; every chat it is added to answers for it.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"quartermaster/internal/domain"
	"quartermaster/internal/router"
)

// MaxMessageLength is Telegram's cap on one text message.
const MaxMessageLength = 4096

const (
	helpText     = "How can I help you? Ask me about inventory, operations, or production orders!"
	unlinkedText = "This bot is not linked to a regiment yet."
	errorText    = "Sorry, I encountered an error processing your request. Please try again."
)

// BotAPI abstracts the Telegram Bot API for testing.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// MessageRouter routes messages to the brain (implemented by router.Router).
type MessageRouter interface {
	Route(ctx context.Context, channelID, message string, tc domain.TurnContext) (string, error)
}

type Option func(*Adapter)

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// Adapter bridges Telegram chats to the router.
type Adapter struct {
	bot        BotAPI
	router     MessageRouter
	regimentID string
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAdapter creates a new Telegram adapter. Both bot and router must be non-nil.
func NewAdapter(bot BotAPI, router MessageRouter, regimentID string, opts ...Option) *Adapter {
	if bot == nil {
		panic("telegram: bot must not be nil")
	}
	if router == nil {
		panic("telegram: router must not be nil")
	}
	a := &Adapter{bot: bot, router: router, regimentID: regimentID}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.Default()
}

// ChatIDToChannelID converts a Telegram chat ID to a router channel ID.
func ChatIDToChannelID(chatID int64) string {
	return "telegram-" + strconv.FormatInt(chatID, 10)
}

// HandleUpdate processes a single Telegram update. Updates without text and
// messages from other bots are ignored.
func (a *Adapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			a.reply(msg, helpText)
			return
		case "ask":
			text = strings.TrimSpace(msg.CommandArguments())
		}
		if text == "" {
			a.reply(msg, helpText)
			return
		}
	}
	if a.regimentID == "" {
		a.reply(msg, unlinkedText)
		return
	}

	if _, err := a.bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		a.log().Debug("telegram typing failed", "chat", msg.Chat.ID, "error", err)
	}

	channelID := ChatIDToChannelID(msg.Chat.ID)
	reply, err := a.router.Route(ctx, channelID, text, a.turnContext(msg))
	if err != nil {
		a.log().Error("telegram turn failed", "channel", channelID, "error", err)
		reply = errorText
	}
	a.reply(msg, reply)
}

func (a *Adapter) turnContext(msg *tgbotapi.Message) domain.TurnContext {
	tc := domain.TurnContext{RegimentID: a.regimentID, GuildName: msg.Chat.Title}
	if u := msg.From; u != nil {
		tc.UserID = strconv.FormatInt(u.ID, 10)
		tc.UserName = u.UserName
		if tc.UserName == "" {
			tc.UserName = strings.TrimSpace(u.FirstName + " " + u.LastName)
		}
	}
	return tc
}

// reply sends text in chunks; the first chunk quotes the original message.
func (a *Adapter) reply(msg *tgbotapi.Message, text string) {
	for i, chunk := range router.Split(text, MaxMessageLength) {
		out := tgbotapi.NewMessage(msg.Chat.ID, chunk)
		if i == 0 {
			out.ReplyToMessageID = msg.MessageID
		}
		if _, err := a.bot.Send(out); err != nil {
			a.log().Warn("telegram send failed", "chat", msg.Chat.ID, "error", err)
			return
		}
	}
}

// Start polls for updates until ctx is canceled or the update channel closes.
func (a *Adapter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			a.HandleUpdate(ctx, update)
		}
	}
}

// Stop gracefully shuts down the adapter.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
