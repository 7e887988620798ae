package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quartermaster/internal/domain"
)

// geminiKey is one API key's client and the time it may be used again after
// a rate limit. A zero restUntil means the key is ready.
type geminiKey struct {
	model     domain.ChatModel
	restUntil time.Time
}

// KeyRing spreads requests across several Gemini API keys. Keys are taken in
// turn; a key answered with a rate limit rests for a fixed period and the
// request moves on to the next ready key. Safe for concurrent use.
type KeyRing struct {
	mu   sync.Mutex
	keys []geminiKey
	next int
	rest time.Duration
	now  func() time.Time
}

// NewKeyRing builds a ring over one model per key.
func NewKeyRing(models []domain.ChatModel, rest time.Duration) (*KeyRing, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("key ring: at least one key is required")
	}
	if rest <= 0 {
		return nil, fmt.Errorf("key ring: rest period must be positive, got %v", rest)
	}
	keys := make([]geminiKey, len(models))
	for i, m := range models {
		if m == nil {
			return nil, fmt.Errorf("key ring: model %d is nil", i)
		}
		keys[i] = geminiKey{model: m}
	}
	return &KeyRing{keys: keys, rest: rest, now: time.Now}, nil
}

// Size is the number of keys on the ring.
func (r *KeyRing) Size() int { return len(r.keys) }

// Ready is the number of keys not resting.
func (r *KeyRing) Ready() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for _, k := range r.keys {
		if !now.Before(k.restUntil) {
			n++
		}
	}
	return n
}

// take returns the next ready key index, or -1 when every key rests.
func (r *KeyRing) take() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for i := range len(r.keys) {
		idx := (r.next + i) % len(r.keys)
		if !now.Before(r.keys[idx].restUntil) {
			r.next = (idx + 1) % len(r.keys)
			return idx
		}
	}
	return -1
}

func (r *KeyRing) sendToRest(idx int) {
	r.mu.Lock()
	r.keys[idx].restUntil = r.now().Add(r.rest)
	r.mu.Unlock()
}

// Chat implements domain.ChatModel. Each key is tried at most once per call.
// Errors other than rate limits are returned without trying another key.
func (r *KeyRing) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var limited error
	for range len(r.keys) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := r.take()
		if idx < 0 {
			break
		}
		resp, err := r.keys[idx].model.Chat(ctx, req)
		if err == nil || !isRateLimitError(err) {
			return resp, err
		}
		r.sendToRest(idx)
		limited = err
	}
	if limited == nil {
		return nil, fmt.Errorf("key ring: all %d keys are resting", len(r.keys))
	}
	return nil, fmt.Errorf("key ring: every ready key was rate limited: %w", limited)
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "resource_exhausted")
}

var _ domain.ChatModel = (*KeyRing)(nil)
