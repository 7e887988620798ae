// Package observe provides per-run correlation ids, named timers and the
// request-scoped logger used by one orchestration run.
package observe

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LevelTrace sits below slog.LevelDebug and is used for full tool payloads.
const LevelTrace = slog.Level(-8)

// nowFunc is the clock used by timers. Package-level so tests can control it.
var nowFunc = time.Now

// NewCorrelationID returns a short request id of the form "req-1a2b3c4d".
func NewCorrelationID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "req-" + id[:8]
}

// Run is the observability state of exactly one orchestration run. Each run
// owns its own id and timers, so concurrent runs never share a slot.
type Run struct {
	id     string
	logger *slog.Logger
	start  time.Time

	mu     sync.Mutex
	timers map[string]time.Time
}

// NewRun starts a run with a fresh correlation id. Every line logged through
// Logger carries request_id. A nil logger falls back to slog.Default().
func NewRun(logger *slog.Logger) *Run {
	if logger == nil {
		logger = slog.Default()
	}
	id := NewCorrelationID()
	return &Run{
		id:     id,
		logger: logger.With("request_id", id),
		start:  nowFunc(),
		timers: make(map[string]time.Time),
	}
}

// ID returns the run's correlation id.
func (r *Run) ID() string { return r.id }

// Logger returns the request-scoped logger.
func (r *Run) Logger() *slog.Logger { return r.logger }

// StartTimer starts (or restarts) the named timer.
func (r *Run) StartTimer(label string) {
	r.mu.Lock()
	r.timers[label] = nowFunc()
	r.mu.Unlock()
}

// StopTimer stops the named timer and returns the elapsed milliseconds.
// A label that was never started yields 0.
func (r *Run) StopTimer(label string) int64 {
	r.mu.Lock()
	started, ok := r.timers[label]
	delete(r.timers, label)
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return nowFunc().Sub(started).Milliseconds()
}

// ElapsedMs returns the milliseconds since the run started.
func (r *Run) ElapsedMs() int64 {
	return nowFunc().Sub(r.start).Milliseconds()
}

type runKey struct{}

// WithRun returns a copy of ctx carrying run.
func WithRun(ctx context.Context, run *Run) context.Context {
	return context.WithValue(ctx, runKey{}, run)
}

// FromContext returns the run carried by ctx, if any.
func FromContext(ctx context.Context) (*Run, bool) {
	run, ok := ctx.Value(runKey{}).(*Run)
	return run, ok && run != nil
}

// Logger returns the run logger carried by ctx, or fallback (or slog.Default())
// when ctx carries no run.
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if run, ok := FromContext(ctx); ok {
		return run.Logger()
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// Clip shortens s to at most n bytes for log output.
func Clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
