package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"quartermaster/internal/domain"
)

const botID = "900"

func guildMessage(content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m-1",
		ChannelID: "chan-1",
		GuildID:   "42",
		Content:   content,
		Author:    &discordgo.User{ID: "d-alice", Username: "alice"},
	}
}

func newTestBot(s *fakeSession, r *fakeRouter, opts ...Option) *Bot {
	return New(s, r, append([]Option{WithBotID(botID)}, opts...)...)
}

func TestNew_WhenDependencyNil_ShouldPanic(t *testing.T) {
	for name, fn := range map[string]func(){
		"session": func() { New(nil, &fakeRouter{}) },
		"router":  func() { New(newFakeSession(), nil) },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestStripMentions_ShouldRemoveUserMentions(t *testing.T) {
	got := StripMentions("<@900>  how many <@!123> bmats? ")

	if got != "how many  bmats?" {
		t.Errorf("got %q", got)
	}
}

func TestHandleMessage_WhenMentioned_ShouldRouteWithContextAndReply(t *testing.T) {
	// Given
	s := newFakeSession()
	r := &fakeRouter{reply: "Bravo holds 510 bmats"}
	b := newTestBot(s, r)

	// When
	b.HandleMessage(context.Background(), guildMessage("<@900> how many bmats?"))

	// Then
	if len(r.calls) != 1 {
		t.Fatalf("calls: %d", len(r.calls))
	}
	want := domain.TurnContext{RegimentID: "42", UserID: "d-alice", UserName: "alice", ChannelID: "chan-1", GuildName: "Logi Regiment"}
	if r.calls[0].message != "how many bmats?" || r.calls[0].tc != want || r.calls[0].channelID != "chan-1" {
		t.Errorf("call: %+v", r.calls[0])
	}
	if len(s.sent) != 1 || s.sent[0].content != "Bravo holds 510 bmats" || s.sent[0].replyTo != "m-1" {
		t.Errorf("sent: %+v", s.sent)
	}
	if s.typing == 0 {
		t.Error("expected typing indicator")
	}
}

func TestHandleMessage_WhenNotAddressed_ShouldIgnore(t *testing.T) {
	bot := guildMessage("<@900> hi")
	bot.Author.Bot = true
	cases := map[string]*discordgo.Message{
		"no mention":      guildMessage("how many bmats?"),
		"other mention":   guildMessage("<@123> how many bmats?"),
		"bot author":      bot,
		"nil author":      {ChannelID: "chan-1", Content: "<@900> hi"},
		"unknown channel": {ChannelID: "gone", Content: "hi", Author: &discordgo.User{ID: "u"}},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			s := newFakeSession()
			r := &fakeRouter{reply: "x"}

			newTestBot(s, r).HandleMessage(context.Background(), m)

			if len(r.calls) != 0 || len(s.sent) != 0 {
				t.Errorf("calls %d, sent %d", len(r.calls), len(s.sent))
			}
		})
	}
}

func TestHandleMessage_WhenOnlyMention_ShouldSendHelp(t *testing.T) {
	s := newFakeSession()
	r := &fakeRouter{}

	newTestBot(s, r).HandleMessage(context.Background(), guildMessage("<@!900>   "))

	if len(r.calls) != 0 || len(s.sent) != 1 || s.sent[0].content != helpText {
		t.Errorf("sent: %+v", s.sent)
	}
}

func TestHandleMessage_WhenDM_ShouldRouteWithoutRegiment(t *testing.T) {
	s := newFakeSession()
	s.channels["dm-1"] = discordgo.ChannelTypeDM
	r := &fakeRouter{reply: "ok"}
	m := &discordgo.Message{ID: "m-2", ChannelID: "dm-1", Content: "list stockpiles", Author: &discordgo.User{ID: "d-bob", Username: "bob"}}

	newTestBot(s, r).HandleMessage(context.Background(), m)

	if len(r.calls) != 1 || r.calls[0].tc.RegimentID != "" || r.calls[0].tc.GuildName != "" {
		t.Errorf("calls: %+v", r.calls)
	}
}

func TestHandleMessage_WhenMentionedOutsideGuild_ShouldExplain(t *testing.T) {
	s := newFakeSession()
	s.channels["group-1"] = discordgo.ChannelTypeGroupDM
	r := &fakeRouter{}
	m := &discordgo.Message{ID: "m-3", ChannelID: "group-1", Content: "<@900> stock?", Author: &discordgo.User{ID: "u"}}

	newTestBot(s, r).HandleMessage(context.Background(), m)

	if len(r.calls) != 0 || len(s.sent) != 1 || s.sent[0].content != notInGuildText {
		t.Errorf("sent: %+v", s.sent)
	}
}

func TestHandleMessage_WhenRouterFails_ShouldApologize(t *testing.T) {
	s := newFakeSession()

	newTestBot(s, &fakeRouter{err: errors.New("model down")}).HandleMessage(context.Background(), guildMessage("<@900> hi"))

	if len(s.sent) != 1 || s.sent[0].content != errorText {
		t.Errorf("sent: %+v", s.sent)
	}
}

func TestHandleMessage_WhenReplyLong_ShouldSplitFirstAsReply(t *testing.T) {
	// Given: three 900-rune lines, too long for one message
	line := strings.Repeat("x", 900)
	s := newFakeSession()
	r := &fakeRouter{reply: line + "\n" + line + "\n" + line}

	// When
	newTestBot(s, r).HandleMessage(context.Background(), guildMessage("<@900> report"))

	// Then
	if len(s.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(s.sent))
	}
	if s.sent[0].replyTo != "m-1" || s.sent[1].replyTo != "" {
		t.Errorf("reply refs: %q, %q", s.sent[0].replyTo, s.sent[1].replyTo)
	}
	if len(s.sent[0].content) != 1801 || len(s.sent[1].content) != 900 {
		t.Errorf("chunk sizes: %d, %d", len(s.sent[0].content), len(s.sent[1].content))
	}
}

func TestGuildName_ShouldCacheAndTolerateErrors(t *testing.T) {
	s := newFakeSession()
	b := newTestBot(s, &fakeRouter{})

	if got := b.guildName("42"); got != "Logi Regiment" {
		t.Errorf("got %q", got)
	}
	s.guildErr = errors.New("forbidden")
	if got := b.guildName("42"); got != "Logi Regiment" {
		t.Errorf("cached name lost: %q", got)
	}
	if got := b.guildName("77"); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestNotify_ShouldPostToChannel(t *testing.T) {
	s := newFakeSession()
	b := newTestBot(s, &fakeRouter{})

	if err := b.Notify(context.Background(), "scans", "Bravo expires in 2h 0m"); err != nil {
		t.Fatal(err)
	}

	if len(s.sent) != 1 || s.sent[0].channelID != "scans" || s.sent[0].replyTo != "" {
		t.Errorf("sent: %+v", s.sent)
	}
	s.sendErr = errors.New("missing access")
	if err := b.Notify(context.Background(), "scans", "x"); err == nil || !strings.Contains(err.Error(), "missing access") {
		t.Errorf("got %v", err)
	}
}
