package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"quartermaster/internal/domain"
)

// localCallPrefix lets the offline model request a tool: "/call <name> <json args>".
const localCallPrefix = "/call "

// LocalModel is a deterministic ChatModel for running without API keys. It
// echoes the user's text, turns "/call name {...}" into a tool call and
// answers a tool-result turn with the results verbatim.
type LocalModel struct {
	Prefix string
}

// NewLocalModel returns a local model that prefixes its echoes.
func NewLocalModel(prefix string) *LocalModel {
	return &LocalModel{Prefix: prefix}
}

// Chat implements domain.ChatModel.
func (m *LocalModel) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return &domain.ChatResponse{}, nil
	}
	last := req.Messages[len(req.Messages)-1]

	if len(last.ToolResults) > 0 {
		var sb strings.Builder
		for i, res := range last.ToolResults {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%s: %s", res.Name, res.Content)
		}
		return &domain.ChatResponse{Text: sb.String()}, nil
	}

	text := strings.TrimSpace(last.Text)
	if rest, ok := strings.CutPrefix(text, localCallPrefix); ok {
		name, rawArgs, _ := strings.Cut(strings.TrimSpace(rest), " ")
		args := map[string]any{}
		if strings.TrimSpace(rawArgs) != "" {
			if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
				return &domain.ChatResponse{Text: fmt.Sprintf("Could not parse arguments for %s: %v", name, err)}, nil
			}
		}
		return &domain.ChatResponse{ToolCalls: []domain.ToolCall{{Name: name, Args: args}}}, nil
	}
	return &domain.ChatResponse{Text: m.Prefix + text}, nil
}

var _ domain.ChatModel = (*LocalModel)(nil)
