// Package router runs one chat message through the orchestration loop in the
// context of its channel: prior turns in, the exchange recorded afterwards,
// one message per channel at a time.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quartermaster/internal/domain"
	"quartermaster/internal/injection"
	"quartermaster/internal/queue"
)

// ErrEmptyChannelID is returned when Route is called with an empty channel ID.
var ErrEmptyChannelID = errors.New("router: channel ID must not be empty")

// Turner answers one message given prior turns (implemented by brain.Brain).
type Turner interface {
	ProcessTurn(ctx context.Context, message string, tc domain.TurnContext, history []domain.Message) (string, error)
}

// History stores a channel's text turns (implemented by session.Manager).
type History interface {
	Recent(channelID string) ([]domain.Message, error)
	Record(channelID string, msgs ...domain.Message) error
}

type Option func(*Router)

func WithHistory(h History) Option {
	return func(r *Router) { r.history = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// Router serializes messages per channel and threads channel history
// through the loop.
type Router struct {
	turner  Turner
	history History
	lanes   *queue.Lanes
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Router. turner must not be nil; without WithHistory every
// message is answered without prior turns.
func New(turner Turner, opts ...Option) *Router {
	if turner == nil {
		panic("router: turner must not be nil")
	}
	r := &Router{turner: turner, lanes: queue.New(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Route answers message in channelID. The user and model turns are recorded
// only when the loop succeeds. History failures are logged and never fail
// the message.
func (r *Router) Route(ctx context.Context, channelID, message string, tc domain.TurnContext) (string, error) {
	if channelID == "" {
		return "", ErrEmptyChannelID
	}
	if tc.ChannelID == "" {
		tc.ChannelID = channelID
	}
	if scan := injection.Scan(message); scan.Detected {
		r.log().Warn("possible prompt injection",
			"channel", channelID, "regiment", tc.RegimentID, "user", tc.UserID, "matched", scan.Matched)
	}

	var reply string
	err := r.lanes.Do(ctx, channelID, func(ctx context.Context) error {
		asked := r.now()
		prior := r.recent(channelID)
		text, err := r.turner.ProcessTurn(ctx, message, tc, prior)
		if err != nil {
			return err
		}
		reply = text
		if r.history != nil {
			if err := r.history.Record(channelID,
				domain.Message{Role: domain.RoleUser, Text: message, Timestamp: asked},
				domain.Message{Role: domain.RoleModel, Text: text, Timestamp: r.now()},
			); err != nil {
				r.log().Warn("history append failed", "channel", channelID, "error", err)
			}
		}
		return nil
	})
	return reply, err
}

func (r *Router) recent(channelID string) []domain.Message {
	if r.history == nil {
		return nil
	}
	msgs, err := r.history.Recent(channelID)
	if err != nil {
		r.log().Warn("history load failed", "channel", channelID, "error", err)
		return nil
	}
	return msgs
}

// ActiveLanes is the number of channels with a live worker.
func (r *Router) ActiveLanes() int { return r.lanes.Len() }
