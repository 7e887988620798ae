// Package tokenizer counts tokens for the history window.
package tokenizer

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"quartermaster/internal/domain"
)

// DefaultEncoding is used when the history config names none.
const DefaultEncoding = "cl100k_base"

// TikToken wraps tiktoken-go to implement domain.Tokenizer.
type TikToken struct {
	name     string
	encoding *tiktoken.Tiktoken
}

// NewTikToken creates a new TikToken tokenizer with the given encoding name.
// Gemini has no public BPE table, so cl100k_base serves as an approximation.
func NewTikToken(encodingName string) (*TikToken, error) {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	return &TikToken{name: encodingName, encoding: enc}, nil
}

// Encoding returns the encoding name.
func (t *TikToken) Encoding() string { return t.name }

// CountTokens returns the number of tokens in the given text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := t.encoding.Encode(text, nil, nil)
	return len(tokens), nil
}

// Estimate counts roughly four runes per token. It needs no BPE table.
type Estimate struct{}

func (Estimate) CountTokens(text string) (int, error) {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4, nil
}

// New returns a TikToken for encodingName, or Estimate when the encoding
// cannot be loaded (tiktoken-go fetches BPE files on first use).
func New(encodingName string, logger *slog.Logger) domain.Tokenizer {
	tok, err := NewTikToken(encodingName)
	if err == nil {
		return tok
	}
	if logger != nil {
		logger.Warn("tokenizer unavailable, estimating", "encoding", encodingName, "error", err)
	}
	return Estimate{}
}

var (
	_ domain.Tokenizer = (*TikToken)(nil)
	_ domain.Tokenizer = Estimate{}
)
