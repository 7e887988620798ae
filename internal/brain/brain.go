// Package brain drives one user turn through the model: it seeds the
// conversation, executes requested tool calls in batches and returns the
// cleaned final answer.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"quartermaster/internal/domain"
	"quartermaster/internal/observe"
	"quartermaster/internal/tooling"
)

// DefaultMaxIterations is the ceiling on model requests per turn.
const DefaultMaxIterations = 5

// ToolExecutor resolves tool calls. *tooling.Invoker implements it.
type ToolExecutor interface {
	Definitions() []domain.ToolDefinition
	Call(ctx context.Context, call domain.ToolCall, tc domain.TurnContext) tooling.Invocation
}

// PromptSource supplies the system instructions for a turn.
type PromptSource interface {
	SystemPrompt(tc domain.TurnContext) string
}

// StaticPrompt is a PromptSource that always returns the same text.
type StaticPrompt string

func (p StaticPrompt) SystemPrompt(domain.TurnContext) string { return string(p) }

// ModelTransportError reports a failed model request. The loop never retries it.
type ModelTransportError struct {
	Iteration int
	Err       error
}

func (e *ModelTransportError) Error() string {
	return fmt.Sprintf("brain: model request %d failed: %v", e.Iteration, e.Err)
}

func (e *ModelTransportError) Unwrap() error { return e.Err }

// LoopState is what one run accumulated. Iteration equals the number of
// model requests sent.
type LoopState struct {
	Iteration    int
	ToolsInvoked []string
	Timings      map[string]int64
	ForcedStop   bool
	RequestID    string
}

// TurnResult is the outcome of RunTurn.
type TurnResult struct {
	Text  string
	State LoopState
}

// Option is a functional option for configuring Brain.
type Option func(*Brain)

// WithMaxIterations sets the request ceiling. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(b *Brain) {
		if n >= 1 {
			b.maxIterations = n
		}
	}
}

// WithToolConcurrency lets one batch of tool calls run on up to n goroutines.
// 1 (the default) runs them in the order the model emitted them.
func WithToolConcurrency(n int) Option {
	return func(b *Brain) {
		if n >= 1 {
			b.concurrency = n
		}
	}
}

// WithPrompt sets the system prompt source. If p is nil it is ignored.
func WithPrompt(p PromptSource) Option {
	return func(b *Brain) {
		if p != nil {
			b.prompt = p
		}
	}
}

// WithContextManager fits prior history into a token budget before each run.
// If cm is nil it is ignored.
func WithContextManager(cm domain.ContextManager) Option {
	return func(b *Brain) {
		if cm != nil {
			b.contextMgr = cm
		}
	}
}

// WithLogger sets a structured logger for the Brain. If l is nil it is ignored
// and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) {
		if l != nil {
			b.logger = l
		}
	}
}

// Brain runs the bounded tool-calling loop. It holds no per-turn state and is
// safe for concurrent turns.
type Brain struct {
	model         domain.ChatModel
	tools         ToolExecutor
	prompt        PromptSource
	contextMgr    domain.ContextManager
	maxIterations int
	concurrency   int
	logger        *slog.Logger
}

// NewBrain returns a Brain over model and tools. Both must not be nil.
func NewBrain(model domain.ChatModel, tools ToolExecutor, opts ...Option) *Brain {
	if model == nil {
		panic("brain: model must not be nil")
	}
	if tools == nil {
		panic("brain: tools must not be nil")
	}
	b := &Brain{
		model:         model,
		tools:         tools,
		prompt:        StaticPrompt(""),
		maxIterations: DefaultMaxIterations,
		concurrency:   1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// log returns the Brain's logger, falling back to the default slog logger.
func (b *Brain) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// ProcessTurn answers one user message. The text is never empty; the error is
// non-nil only for model transport failures or caller cancellation.
func (b *Brain) ProcessTurn(ctx context.Context, message string, tc domain.TurnContext, history []domain.Message) (string, error) {
	res, err := b.RunTurn(ctx, message, tc, history)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// RunTurn is ProcessTurn with the loop state exposed.
func (b *Brain) RunTurn(ctx context.Context, message string, tc domain.TurnContext, history []domain.Message) (TurnResult, error) {
	run := observe.NewRun(b.log())
	ctx = observe.WithRun(ctx, run)
	log := run.Logger()
	run.StartTimer("total")

	state := LoopState{Iteration: 1, Timings: make(map[string]int64), RequestID: run.ID()}
	log.Info("processing turn",
		"regiment_id", tc.RegimentID,
		"user", tc.UserName,
		"channel_id", tc.ChannelID,
		"history", len(history),
	)

	system := b.prompt.SystemPrompt(tc)
	session := newChatSession(BuildContext(system, b.fitHistory(log, history, system)), b.tools.Definitions())
	session.append(domain.TextMessage(domain.RoleUser, message))

	var lastText string
	for {
		if err := ctx.Err(); err != nil {
			return TurnResult{State: state}, err
		}

		run.StartTimer("model")
		resp, err := session.send(ctx, b.model)
		state.Timings["model"] += run.StopTimer("model")
		if err != nil {
			if ctx.Err() != nil {
				return TurnResult{State: state}, ctx.Err()
			}
			log.Error("model request failed", "iteration", state.Iteration, "error", err)
			return TurnResult{State: state}, &ModelTransportError{Iteration: state.Iteration, Err: err}
		}
		if len(resp.ToolCalls) == 0 {
			lastText = resp.Text
			break
		}
		if strings.TrimSpace(resp.Text) != "" {
			lastText = resp.Text
		}
		if state.Iteration >= b.maxIterations {
			state.ForcedStop = true
			log.Warn("max iterations reached, dropping pending tool calls",
				"max_iterations", b.maxIterations,
				"dropped_calls", len(resp.ToolCalls),
			)
			break
		}
		if err := ctx.Err(); err != nil {
			return TurnResult{State: state}, err
		}

		log.Debug("executing tool batch", "iteration", state.Iteration, "calls", len(resp.ToolCalls))
		session.append(domain.Message{
			Role:        domain.RoleUser,
			ToolResults: b.executeBatch(ctx, run, resp.ToolCalls, tc, &state),
		})
		state.Iteration++
	}

	text := strings.TrimSpace(CleanResponse(lastText))
	if text == "" {
		log.Warn("model returned no text, using fallback")
		text = FallbackText
	}
	state.Timings["total"] = run.StopTimer("total")
	log.Info(fmt.Sprintf("Complete: %dms | %d iteration(s) | %d tool(s)",
		state.Timings["total"], state.Iteration, uniqueCount(state.ToolsInvoked)))
	return TurnResult{Text: text, State: state}, nil
}

// fitHistory trims prior turns to the token budget. A failure keeps the
// history as supplied.
func (b *Brain) fitHistory(log *slog.Logger, history []domain.Message, system string) []domain.Message {
	if b.contextMgr == nil || len(history) == 0 {
		return history
	}
	fitted, err := b.contextMgr.FitToWindow(history, system)
	if err != nil {
		log.Warn("context fitting failed, using full history", "error", err)
		return history
	}
	return fitted
}

// executeBatch resolves every call of one model response. Results come back
// in call order whatever the execution order was.
func (b *Brain) executeBatch(ctx context.Context, run *observe.Run, calls []domain.ToolCall, tc domain.TurnContext, state *LoopState) []domain.ToolResult {
	invocations := make([]tooling.Invocation, len(calls))
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = fmt.Sprintf("call_%d_%d", state.Iteration, i)
		}
	}

	run.StartTimer("tools")
	if b.concurrency <= 1 || len(calls) == 1 {
		for i, call := range calls {
			invocations[i] = b.tools.Call(ctx, call, tc)
		}
	} else {
		p := pool.New().WithMaxGoroutines(b.concurrency)
		for i, call := range calls {
			p.Go(func() {
				invocations[i] = b.tools.Call(ctx, call, tc)
			})
		}
		p.Wait()
	}
	state.Timings["tools"] += run.StopTimer("tools")

	results := make([]domain.ToolResult, len(calls))
	for i, inv := range invocations {
		results[i] = inv.Result
		state.ToolsInvoked = append(state.ToolsInvoked, calls[i].Name)
		state.Timings["tool:"+calls[i].Name] += inv.Elapsed.Milliseconds()
	}
	return results
}

func uniqueCount(names []string) int {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	return len(seen)
}
