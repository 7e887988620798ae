package discord

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"quartermaster/internal/domain"
	"quartermaster/internal/scanner"
)

type sentMessage struct {
	channelID string
	content   string
	replyTo   string
}

type fakeSession struct {
	mu        sync.Mutex
	sent      []sentMessage
	complex   []*discordgo.MessageSend
	edits     []*discordgo.MessageEdit
	responses []*discordgo.InteractionResponse
	typing    int
	channels  map[string]discordgo.ChannelType
	guildErr  error
	sendErr   error
}

func newFakeSession() *fakeSession {
	return &fakeSession{channels: map[string]discordgo.ChannelType{}}
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) ChannelMessageSendReply(channelID, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, content: content, replyTo: ref.MessageID})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complex = append(f.complex, data)
	return &discordgo.Message{ID: "status-1", ChannelID: channelID}, nil
}

func (f *fakeSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, m)
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (f *fakeSession) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSession) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.channels[channelID]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return &discordgo.Channel{ID: channelID, Type: t}, nil
}

func (f *fakeSession) Guild(guildID string, _ ...discordgo.RequestOption) (*discordgo.Guild, error) {
	if f.guildErr != nil {
		return nil, f.guildErr
	}
	return &discordgo.Guild{ID: guildID, Name: "Logi Regiment"}, nil
}

func (f *fakeSession) lastEdit() *discordgo.MessageEdit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return nil
	}
	return f.edits[len(f.edits)-1]
}

type routeCall struct {
	channelID string
	message   string
	tc        domain.TurnContext
}

type fakeRouter struct {
	mu    sync.Mutex
	calls []routeCall
	reply string
	err   error
}

func (f *fakeRouter) Route(_ context.Context, channelID, message string, tc domain.TurnContext) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, routeCall{channelID, message, tc})
	return f.reply, f.err
}

type fakeFlow struct {
	mu         sync.Mutex
	scanner    string
	beginErr   error
	pending    *scanner.Pending
	uploads    []scanner.Upload
	confirmErr error
	outcome    scanner.Outcome
	cancelErr  error
	expired    []string
	stillOpen  bool
}

func (f *fakeFlow) IsScannerChannel(_ context.Context, _, channelID string) (bool, error) {
	return channelID == f.scanner, nil
}

func (f *fakeFlow) Begin(_ context.Context, up scanner.Upload) (*scanner.Pending, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, up)
	return f.pending, f.beginErr
}

func (f *fakeFlow) Confirm(context.Context, string, string) (scanner.Outcome, error) {
	return f.outcome, f.confirmErr
}

func (f *fakeFlow) Cancel(string, string) error { return f.cancelErr }

func (f *fakeFlow) Expire(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, id)
	return f.stillOpen
}

func (f *fakeFlow) ConfirmTTL() time.Duration { return 5 * time.Minute }
