package domain

import "context"

// ChatModel is the model-agnostic interface for function-calling chat.
// Implementations may be Gemini, the offline local model, or mocks.
type ChatModel interface {
	// Chat sends the whole conversation and returns the model's next turn.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// SessionHistoryStore persists a channel's text turns to a JSONL file and
// supports loading the most recent ones for the next turn.
type SessionHistoryStore interface {
	// Append serializes a Message to JSON and appends it as a single line to the history file.
	Append(msg Message) error

	// LoadHistory reads the last n messages from the history file.
	// Returns empty slice when the file does not exist or n <= 0.
	LoadHistory(n int) ([]Message, error)
}

// Tokenizer counts tokens in a string for context window management.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text.
	CountTokens(text string) (int, error)
}

// ContextManager fits prior turns into a token budget.
type ContextManager interface {
	// FitToWindow takes messages and a system prompt, and returns messages
	// that fit within the configured token limit. The system prompt tokens
	// are always reserved. Older messages are dropped first (sliding window).
	FitToWindow(messages []Message, systemPrompt string) ([]Message, error)
}
