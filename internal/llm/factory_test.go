package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"quartermaster/internal/domain"
	"quartermaster/internal/retry"
)

func secrets(values map[string]string) SecretGetter {
	return func(name string) (string, error) { return values[name], nil }
}

func TestNewModel_WhenLocal_ShouldEcho(t *testing.T) {
	m, err := NewModel(domain.AgentConfig{Provider: "local"}, secrets(nil), domain.RetryConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := m.Chat(context.Background(), userTurn("test"))
	if err != nil || resp.Text != "Local: test" {
		t.Errorf("got %+v, %v", resp, err)
	}
}

func TestNewModel_WhenGeminiKeyMissing_ShouldReturnError(t *testing.T) {
	_, err := NewModel(domain.AgentConfig{Provider: "gemini"}, secrets(nil), domain.RetryConfig{}, nil)
	if err == nil {
		t.Error("expected error when no API key")
	}
}

func TestNewModel_WhenProviderEmpty_ShouldDefaultToGemini(t *testing.T) {
	m, err := NewModel(domain.AgentConfig{}, secrets(map[string]string{GeminiKeySecret: "k"}), domain.RetryConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*GeminiModel); !ok {
		t.Errorf("expected *GeminiModel, got %T", m)
	}
}

func TestNewModel_WhenSeveralKeys_ShouldBuildKeyRing(t *testing.T) {
	m, err := NewModel(domain.AgentConfig{Provider: "gemini"}, secrets(map[string]string{GeminiKeySecret: "a, b ,,c"}), domain.RetryConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	kr, ok := m.(*KeyRing)
	if !ok {
		t.Fatalf("expected *KeyRing, got %T", m)
	}
	if kr.Size() != 3 {
		t.Errorf("expected 3 keys, got %d", kr.Size())
	}
}

func TestNewModel_WhenKeyRingFails_ShouldReturnError(t *testing.T) {
	orig := newKeyRingFunc
	newKeyRingFunc = func([]domain.ChatModel, time.Duration) (*KeyRing, error) { return nil, errors.New("boom") }
	defer func() { newKeyRingFunc = orig }()

	_, err := NewModel(domain.AgentConfig{Provider: "gemini"}, secrets(map[string]string{GeminiKeySecret: "a,b"}), domain.RetryConfig{}, nil)
	if err == nil {
		t.Error("expected error")
	}
}

func TestNewModel_WhenSecretLookupFails_ShouldReturnError(t *testing.T) {
	want := errors.New("secret error")
	_, err := NewModel(domain.AgentConfig{Provider: "gemini"}, func(string) (string, error) { return "", want }, domain.RetryConfig{}, nil)
	if !errors.Is(err, want) {
		t.Errorf("want %v, got %v", want, err)
	}
}

func TestNewModel_WhenUnknownProvider_ShouldReturnError(t *testing.T) {
	if _, err := NewModel(domain.AgentConfig{Provider: "openai"}, secrets(nil), domain.RetryConfig{}, nil); err == nil {
		t.Error("expected error")
	}
}

func TestNewModel_WhenRetriesEnabled_ShouldWrap(t *testing.T) {
	m, err := NewModel(domain.AgentConfig{Provider: "local"}, secrets(nil), domain.RetryConfig{MaxRetries: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.(*retry.RetryableModel); !ok {
		t.Errorf("expected *retry.RetryableModel, got %T", m)
	}
}

func TestNewModel_ShouldSkipBrokenFallbacks(t *testing.T) {
	agent := domain.AgentConfig{
		Provider:  "local",
		Fallbacks: []domain.FallbackConfig{{Provider: "gemini"}, {Provider: "local"}},
	}
	m, err := NewModel(agent, secrets(nil), domain.RetryConfig{}, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	fm, ok := m.(*FallbackModel)
	if !ok {
		t.Fatalf("expected *FallbackModel, got %T", m)
	}
	if len(fm.models) != 2 {
		t.Errorf("expected primary + 1 fallback, got %d", len(fm.models))
	}
}

func TestSplitKeys_ShouldTrimAndDropEmpty(t *testing.T) {
	if got := splitKeys(" a,, b ,"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v", got)
	}
}
