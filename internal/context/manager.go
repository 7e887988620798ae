// Package context fits a channel's prior turns into a token budget before
// they are handed to the model.
package context

import (
	"fmt"

	"quartermaster/internal/domain"
)

// perMessageTokens approximates the framing each turn costs on the wire.
const perMessageTokens = 4

// Manager implements domain.ContextManager with a sliding window: the system
// prompt is reserved first, then turns are kept newest first while they fit.
type Manager struct {
	tokenizer domain.Tokenizer
	maxTokens int
}

// NewManager panics if tokenizer is nil or maxTokens <= 0.
func NewManager(tokenizer domain.Tokenizer, maxTokens int) *Manager {
	if tokenizer == nil {
		panic("context: tokenizer must not be nil")
	}
	if maxTokens <= 0 {
		panic("context: maxTokens must be > 0")
	}
	return &Manager{tokenizer: tokenizer, maxTokens: maxTokens}
}

// MaxTokens is the configured budget.
func (m *Manager) MaxTokens() int { return m.maxTokens }

// FitToWindow returns the newest suffix of messages that fits next to
// systemPrompt. A kept window never opens on a model turn, so an answer is
// not re-supplied without its question.
func (m *Manager) FitToWindow(messages []domain.Message, systemPrompt string) ([]domain.Message, error) {
	if len(messages) == 0 {
		return []domain.Message{}, nil
	}

	sysTokens := 0
	if systemPrompt != "" {
		n, err := m.tokenizer.CountTokens(systemPrompt)
		if err != nil {
			return nil, fmt.Errorf("context: counting system prompt tokens: %w", err)
		}
		sysTokens = n
	}
	if sysTokens > m.maxTokens {
		return nil, fmt.Errorf("context: system prompt (%d tokens) exceeds limit (%d tokens)", sysTokens, m.maxTokens)
	}
	budget := m.maxTokens - sysTokens

	start := len(messages)
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		n, err := m.tokenizer.CountTokens(MessageText(messages[i]))
		if err != nil {
			return nil, fmt.Errorf("context: counting tokens for message %d: %w", i, err)
		}
		n += perMessageTokens
		if total+n > budget {
			break
		}
		total += n
		start = i
	}
	for start < len(messages) && messages[start].Role == domain.RoleModel {
		start++
	}
	return messages[start:], nil
}

var _ domain.ContextManager = (*Manager)(nil)
