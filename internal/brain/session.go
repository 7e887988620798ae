package brain

import (
	"context"
	"errors"

	"quartermaster/internal/domain"
)

// chatSession is the append-only conversation of one run. It is discarded
// when the run ends and allows one outstanding request at a time.
type chatSession struct {
	turns []domain.Message
	tools []domain.ToolDefinition
}

func newChatSession(seed []domain.Message, tools []domain.ToolDefinition) *chatSession {
	turns := make([]domain.Message, len(seed), len(seed)+8)
	copy(turns, seed)
	return &chatSession{turns: turns, tools: tools}
}

func (s *chatSession) append(msg domain.Message) {
	s.turns = append(s.turns, msg)
}

// send issues one model request with the whole conversation and records the
// model's reply as the next turn.
func (s *chatSession) send(ctx context.Context, model domain.ChatModel) (*domain.ChatResponse, error) {
	req := domain.ChatRequest{
		Messages: append([]domain.Message(nil), s.turns...),
		Tools:    s.tools,
	}
	resp, err := model.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty model response")
	}
	s.append(domain.Message{Role: domain.RoleModel, Text: resp.Text, ToolCalls: resp.ToolCalls})
	return resp, nil
}
