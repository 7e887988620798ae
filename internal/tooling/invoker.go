package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"quartermaster/internal/domain"
	"quartermaster/internal/observe"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// Contextual keys the invoker fills from the turn context when a tool declares
// them and the model left them out.
const (
	KeyRegimentID = "regimentId"
	KeyUserID     = "userId"
)

// resultLogLimit caps tool payloads written at trace level.
const resultLogLimit = 500

// Invocation is the outcome of one tool call. Result is always populated;
// Err is set when Result carries an error payload.
type Invocation struct {
	Result   domain.ToolResult
	Args     map[string]any
	Injected []string
	Elapsed  time.Duration
	Err      error
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithTimeout sets the per-call execution timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithLogger sets the fallback logger used when a call's context carries no run.
func WithLogger(l *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		if l != nil {
			i.logger = l
		}
	}
}

// Invoker resolves tool calls against a Registry. Every call produces a
// string result; failures are encoded as {"error":"<cause>"} and never
// returned to the caller as Go errors.
type Invoker struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewInvoker returns an Invoker over registry. Panics if registry is nil.
func NewInvoker(registry *Registry, opts ...InvokerOption) *Invoker {
	if registry == nil {
		panic("tooling: registry must not be nil")
	}
	i := &Invoker{registry: registry, timeout: DefaultToolTimeout}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Definitions returns the ordered catalog advertised to the model.
func (i *Invoker) Definitions() []domain.ToolDefinition {
	return i.registry.List()
}

// Invoke runs the named tool and returns its string payload.
func (i *Invoker) Invoke(ctx context.Context, name string, args map[string]any, tc domain.TurnContext) string {
	return i.Call(ctx, domain.ToolCall{Name: name, Args: args}, tc).Result.Content
}

// Call resolves one model-requested call: context injection, schema
// validation, bounded execution and result encoding.
func (i *Invoker) Call(ctx context.Context, call domain.ToolCall, tc domain.TurnContext) Invocation {
	log := observe.Logger(ctx, i.logger)
	start := time.Now()
	inv := Invocation{Result: domain.ToolResult{CallID: call.ID, Name: call.Name}}

	tool, err := i.registry.Get(call.Name)
	if err != nil {
		log.Warn("unknown tool requested", "tool", call.Name)
		return i.fail(inv, err, start)
	}

	inv.Args, inv.Injected = injectContext(tool.Definition(), call.Args, tc)
	log.Debug("invoking tool",
		"tool", call.Name,
		"args", call.Args,
		"injected", inv.Injected,
	)

	raw, err := json.Marshal(inv.Args)
	if err != nil {
		return i.fail(inv, &ToolExecutionError{Tool: call.Name, Cause: err}, start)
	}

	value, err := i.execute(ctx, tool, raw)
	if err != nil {
		inv = i.fail(inv, &ToolExecutionError{Tool: call.Name, Cause: err}, start)
		log.Warn("tool failed", "tool", call.Name, "error", err, "elapsed_ms", inv.Elapsed.Milliseconds())
		return inv
	}

	content, err := encodeResult(value)
	if err != nil {
		return i.fail(inv, &ToolExecutionError{Tool: call.Name, Cause: err}, start)
	}
	inv.Result.Content = content
	inv.Elapsed = time.Since(start)
	log.Debug("tool completed", "tool", call.Name, "elapsed_ms", inv.Elapsed.Milliseconds())
	log.Log(ctx, observe.LevelTrace, "tool result", "tool", call.Name, "result", observe.Clip(content, resultLogLimit))
	return inv
}

// execute runs the handler on a context detached from caller cancellation so
// a dispatched call finishes, bounded only by the tool timeout.
func (i *Invoker) execute(ctx context.Context, tool *Tool, raw json.RawMessage) (any, error) {
	if err := tool.Validate(raw); err != nil {
		return nil, err
	}
	toolCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := tool.handler(toolCtx, raw)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		return out.value, out.err
	case <-toolCtx.Done():
		return nil, fmt.Errorf("timed out after %s", i.timeout)
	}
}

func (i *Invoker) fail(inv Invocation, err error, start time.Time) Invocation {
	inv.Err = err
	inv.Result.IsError = true
	inv.Result.Content = errorPayload(errorMessage(err))
	inv.Elapsed = time.Since(start)
	return inv
}

// injectContext copies args and fills declared contextual keys the model
// omitted. Model-supplied values are never overwritten.
func injectContext(def domain.ToolDefinition, args map[string]any, tc domain.TurnContext) (map[string]any, []string) {
	out := make(map[string]any, len(args)+2)
	maps.Copy(out, args)

	var injected []string
	for _, kv := range [...]struct{ key, value string }{
		{KeyRegimentID, tc.RegimentID},
		{KeyUserID, tc.UserID},
	} {
		if kv.value == "" || !def.HasParam(kv.key) {
			continue
		}
		if _, present := out[kv.key]; present {
			continue
		}
		out[kv.key] = kv.value
		injected = append(injected, kv.key)
	}
	return out, injected
}

// encodeResult turns a handler value into the string sent to the model.
func encodeResult(v any) (string, error) {
	switch r := v.(type) {
	case string:
		return r, nil
	case json.RawMessage:
		if !json.Valid(r) {
			return "", errors.New("handler returned malformed JSON")
		}
		return string(r), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

// errorMessage is the cause the model sees: the handler's own message for
// execution failures, the full message otherwise.
func errorMessage(err error) string {
	var execErr *ToolExecutionError
	if errors.As(err, &execErr) && execErr.Cause != nil {
		return execErr.Cause.Error()
	}
	return err.Error()
}

func errorPayload(msg string) string {
	data, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return string(data)
}
