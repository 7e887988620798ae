package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"quartermaster/internal/domain"
)

// FallbackModel tries each model in order and returns the first success.
// One Chat call is still one request from the loop's point of view.
type FallbackModel struct {
	models []domain.ChatModel
	logger *slog.Logger
}

// NewFallbackModel returns primary unchanged when there are no fallbacks.
// Nil entries are skipped.
func NewFallbackModel(logger *slog.Logger, primary domain.ChatModel, fallbacks ...domain.ChatModel) domain.ChatModel {
	models := []domain.ChatModel{primary}
	for _, fb := range fallbacks {
		if fb != nil {
			models = append(models, fb)
		}
	}
	if len(models) == 1 {
		return primary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackModel{models: models, logger: logger}
}

// Chat implements domain.ChatModel.
func (f *FallbackModel) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var errs []error
	for i, m := range f.models {
		if i > 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("model failed, trying fallback", "fallback_index", i, "error", errs[len(errs)-1])
		}
		resp, err := m.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("llm: all %d models failed: %w", len(errs), errors.Join(errs...))
}
