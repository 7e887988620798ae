// Package discord is the primary chat transport. It answers direct mentions
// and DMs through the router and runs the scanner channel flow.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"quartermaster/internal/domain"
	"quartermaster/internal/observe"
	"quartermaster/internal/router"
)

// MaxMessageLength is Discord's cap on one message.
const MaxMessageLength = 2000

const (
	helpText       = "How can I help you? Ask me about inventory, operations, or production orders!"
	notInGuildText = "I can only help with regiment data when used in a server."
	errorText      = "Sorry, I encountered an error processing your request. Please try again."
)

// typingInterval re-sends the typing indicator, which Discord clears after ten seconds.
var typingInterval = 8 * time.Second

var mentionPattern = regexp.MustCompile(`<@!?\d+>`)

// Session is the part of *discordgo.Session the bot uses.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
}

// MessageRouter routes messages to the brain (implemented by router.Router).
type MessageRouter interface {
	Route(ctx context.Context, channelID, message string, tc domain.TurnContext) (string, error)
}

type Option func(*Bot)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// WithScanner enables the scanner channel flow.
func WithScanner(flow ScanFlow) Option {
	return func(b *Bot) { b.scans = flow }
}

// WithBotID sets the bot's own user id. Run learns it from the Ready event.
func WithBotID(id string) Option {
	return func(b *Bot) { b.botID = id }
}

// Bot handles Discord events.
type Bot struct {
	session Session
	router  MessageRouter
	scans   ScanFlow
	logger  *slog.Logger

	mu     sync.Mutex
	botID  string
	guilds map[string]string
	timers map[string]*time.Timer
}

// New creates a Bot. session and router must not be nil.
func New(session Session, router MessageRouter, opts ...Option) *Bot {
	if session == nil {
		panic("discord: session must not be nil")
	}
	if router == nil {
		panic("discord: router must not be nil")
	}
	b := &Bot{
		session: session,
		router:  router,
		guilds:  make(map[string]string),
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bot) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

func (b *Bot) selfID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.botID
}

// Run connects s, dispatches its events to b and blocks until ctx is done.
func Run(ctx context.Context, s *discordgo.Session, b *Bot) error {
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.mu.Lock()
		b.botID = r.User.ID
		b.mu.Unlock()
		b.log().Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
		if err := s.UpdateWatchStatus(0, "Foxhole logistics"); err != nil {
			b.log().Debug("discord presence failed", "error", err)
		}
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.HandleMessage(ctx, m.Message)
	})
	s.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.HandleInteraction(ctx, i.Interaction)
	})
	if err := s.Open(); err != nil {
		return err
	}
	<-ctx.Done()
	b.stopTimers()
	return s.Close()
}

// StripMentions removes every <@id> and <@!id> mention and trims the rest.
func StripMentions(content string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(content, ""))
}

func (b *Bot) mentioned(content string) bool {
	id := b.selfID()
	if id == "" {
		return false
	}
	return strings.Contains(content, "<@"+id+">") || strings.Contains(content, "<@!"+id+">")
}

func (b *Bot) isDM(m *discordgo.Message) bool {
	if m.GuildID != "" {
		return false
	}
	ch, err := b.session.Channel(m.ChannelID)
	if err != nil {
		b.log().Debug("discord channel lookup failed", "channel", m.ChannelID, "error", err)
		return false
	}
	return ch.Type == discordgo.ChannelTypeDM
}

// HandleMessage processes one created message.
func (b *Bot) HandleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if b.handleScan(ctx, m) {
		return
	}

	mentioned := b.mentioned(m.Content)
	dm := b.isDM(m)
	if !dm && !mentioned {
		return
	}

	content := m.Content
	if mentioned {
		content = StripMentions(content)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		b.reply(m, helpText)
		return
	}
	if m.GuildID == "" && !dm {
		b.reply(m, notInGuildText)
		return
	}

	log := b.log().With("channel", m.ChannelID, "user", m.Author.Username)
	log.Debug("discord message received", "guild", m.GuildID, "content", observe.Clip(content, 100))

	stop := b.keepTyping(m.ChannelID)
	start := time.Now()
	reply, err := b.router.Route(ctx, m.ChannelID, content, domain.TurnContext{
		RegimentID: m.GuildID,
		UserID:     m.Author.ID,
		UserName:   m.Author.Username,
		ChannelID:  m.ChannelID,
		GuildName:  b.guildName(m.GuildID),
	})
	stop()
	if err != nil {
		log.Error("discord turn failed", "error", err)
		b.reply(m, errorText)
		return
	}
	chunks := b.reply(m, reply)
	log.Debug("discord response sent", "ms", time.Since(start).Milliseconds(), "length", len(reply), "chunks", chunks)
}

// reply sends text split to Discord's limit: the first chunk replies to m,
// the rest are plain sends. It returns the number of chunks sent.
func (b *Bot) reply(m *discordgo.Message, text string) int {
	sent := 0
	for i, chunk := range router.Split(text, MaxMessageLength) {
		var err error
		if i == 0 {
			_, err = b.session.ChannelMessageSendReply(m.ChannelID, chunk, m.Reference())
		} else {
			_, err = b.session.ChannelMessageSend(m.ChannelID, chunk)
		}
		if err != nil {
			b.log().Warn("discord send failed", "channel", m.ChannelID, "error", err)
			break
		}
		sent++
	}
	return sent
}

// keepTyping shows the typing indicator until the returned stop is called.
func (b *Bot) keepTyping(channelID string) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	typing := func() {
		if err := b.session.ChannelTyping(channelID); err != nil {
			b.log().Debug("discord typing failed", "channel", channelID, "error", err)
		}
	}
	typing()
	go func() {
		t := time.NewTicker(typingInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				typing()
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (b *Bot) guildName(guildID string) string {
	if guildID == "" {
		return ""
	}
	b.mu.Lock()
	name, ok := b.guilds[guildID]
	b.mu.Unlock()
	if ok {
		return name
	}
	g, err := b.session.Guild(guildID)
	if err != nil {
		return ""
	}
	b.mu.Lock()
	b.guilds[guildID] = g.Name
	b.mu.Unlock()
	return g.Name
}

// Notify posts text to channelID, split to Discord's limit.
func (b *Bot) Notify(_ context.Context, channelID, text string) error {
	for _, chunk := range router.Split(text, MaxMessageLength) {
		if _, err := b.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discord: notify %s: %w", channelID, err)
		}
	}
	return nil
}
