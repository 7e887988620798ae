// Package retry decorates a chat model with backoff on transient failures.
// It sits outside the orchestration loop: one loop request may become several
// HTTP attempts, but the loop itself never re-sends.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"quartermaster/internal/domain"
)

// Config controls retry behaviour for model requests.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultConfig returns the backoff used when retries are enabled without
// explicit timings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// FromSettings converts the millisecond-based file settings, filling unset
// timings from DefaultConfig.
func FromSettings(s domain.RetryConfig) Config {
	cfg := DefaultConfig()
	cfg.MaxRetries = s.MaxRetries
	if s.InitialBackoff > 0 {
		cfg.InitialBackoff = time.Duration(s.InitialBackoff) * time.Millisecond
	}
	if s.MaxBackoff > 0 {
		cfg.MaxBackoff = time.Duration(s.MaxBackoff) * time.Millisecond
	}
	if s.Multiplier > 0 {
		cfg.Multiplier = float64(s.Multiplier)
	}
	return cfg
}

// Validate checks that all Config fields are within acceptable ranges.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("retry: MaxRetries must be >= 0")
	}
	if c.InitialBackoff <= 0 {
		return errors.New("retry: InitialBackoff must be > 0")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("retry: MaxBackoff must be > 0")
	}
	if c.Multiplier < 1.0 {
		return errors.New("retry: Multiplier must be >= 1.0")
	}
	return nil
}

// =============================================================================
// Error Classification
// =============================================================================

var retryableStatusCodes = []string{"429", "500", "502", "503", "504"}

// IsRetryable reports whether err is a transient failure (5xx, 429, timeout,
// connection refused, EOF). Context errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, code := range retryableStatusCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF")
}

// =============================================================================
// RetryableModel (Decorator)
// =============================================================================

// RetryableModel wraps a ChatModel with retry-on-transient-error logic.
type RetryableModel struct {
	inner     domain.ChatModel
	config    Config
	sleepFunc func(context.Context, time.Duration) error
}

// NewRetryableModel returns a decorator that retries Chat on transient errors.
// inner must not be nil.
func NewRetryableModel(inner domain.ChatModel, cfg Config) *RetryableModel {
	if inner == nil {
		panic("retry: inner model must not be nil")
	}
	return &RetryableModel{inner: inner, config: cfg, sleepFunc: sleepCtx}
}

// Chat calls the inner model and retries transient failures with
// exponential backoff, capped at MaxBackoff.
func (m *RetryableModel) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	backoff := m.config.InitialBackoff

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		resp, err := m.inner.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == m.config.MaxRetries {
			break
		}
		if err := m.sleepFunc(ctx, backoff); err != nil {
			return nil, err
		}
		backoff = min(time.Duration(float64(backoff)*m.config.Multiplier), m.config.MaxBackoff)
	}

	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", m.config.MaxRetries+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ domain.ChatModel = (*RetryableModel)(nil)
