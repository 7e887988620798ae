package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quartermaster/internal/domain"
	"quartermaster/internal/retry"
)

// keyRestPeriod is how long a rate-limited key sits out.
const keyRestPeriod = 60 * time.Second

// GeminiKeySecret names the secret holding one or more comma-separated keys.
const GeminiKeySecret = "gemini_api_key"

// SecretGetter returns a secret by name.
type SecretGetter func(name string) (string, error)

// NewModel builds the configured model with its fallbacks, wrapped in retry
// when retries are enabled. An empty provider means "gemini".
func NewModel(agent domain.AgentConfig, getSecret SecretGetter, retryCfg domain.RetryConfig, logger *slog.Logger) (domain.ChatModel, error) {
	primary, err := newBaseModel(agent.Provider, agent.Model, getSecret)
	if err != nil {
		return nil, err
	}
	var fallbacks []domain.ChatModel
	for _, fb := range agent.Fallbacks {
		m, err := newBaseModel(fb.Provider, fb.Model, getSecret)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping fallback model", "provider", fb.Provider, "model", fb.Model, "error", err)
			}
			continue
		}
		fallbacks = append(fallbacks, m)
	}
	return wrapWithRetry(NewFallbackModel(logger, primary, fallbacks...), retryCfg), nil
}

func newBaseModel(provider, model string, getSecret SecretGetter) (domain.ChatModel, error) {
	if provider == "" {
		provider = "gemini"
	}
	switch provider {
	case "local":
		return NewLocalModel("Local: "), nil
	case "gemini":
		return resolveKeyedModel("gemini", GeminiKeySecret, getSecret, func(key string) domain.ChatModel {
			return NewGeminiModel(key, model)
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q (use: gemini, local)", provider)
	}
}

// splitKeys splits a raw secret value by commas, trims whitespace, and filters empty entries.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// newKeyRingFunc is the KeyRing constructor. Package-level var for test injection.
var newKeyRingFunc = NewKeyRing

// resolveKeyedModel returns a single model for one key or a KeyRing for several.
func resolveKeyedModel(providerName, secretName string, getSecret SecretGetter, makeModel func(key string) domain.ChatModel) (domain.ChatModel, error) {
	raw, err := getSecret(secretName)
	if err != nil {
		return nil, err
	}
	keys := splitKeys(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s provider: API key not set (store with: quartermaster secrets set %s <key>)", providerName, secretName)
	}
	if len(keys) == 1 {
		return makeModel(keys[0]), nil
	}
	models := make([]domain.ChatModel, len(keys))
	for i, k := range keys {
		models[i] = makeModel(k)
	}
	ring, err := newKeyRingFunc(models, keyRestPeriod)
	if err != nil {
		return nil, fmt.Errorf("%s key ring: %w", providerName, err)
	}
	return ring, nil
}

func wrapWithRetry(model domain.ChatModel, rc domain.RetryConfig) domain.ChatModel {
	if rc.MaxRetries <= 0 {
		return model
	}
	return retry.NewRetryableModel(model, retry.FromSettings(rc))
}
