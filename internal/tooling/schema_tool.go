package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"quartermaster/internal/domain"
)

// Handler executes a tool with already validated JSON arguments. The value
// is encoded by the invoker; the error becomes the tool's error payload.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// marshalFunc is the JSON marshaler used for reflected schemas. Package-level
// so tests can inject a failing marshaler.
var marshalFunc = json.Marshal

// unmarshalFunc decodes arguments into a tool's input struct.
var unmarshalFunc = json.Unmarshal

var reflector = invopopSchema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
	Anonymous:                 true,
}

// Tool is one schema-described operation: a definition for the model, a
// compiled validator for its arguments and the handler.
type Tool struct {
	def     domain.ToolDefinition
	schema  *jsonschema.Schema
	handler Handler
}

// NewTool reflects In into a JSON Schema and returns a Tool whose handler
// decodes validated arguments into In before calling fn. Fields without
// omitempty are required.
func NewTool[In any](name, description string, fn func(ctx context.Context, in In) (any, error)) (*Tool, error) {
	if name == "" {
		return nil, errors.New("tooling: tool name must not be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("tooling: tool %q has nil handler", name)
	}
	var zero In
	reflected := reflector.Reflect(&zero)
	raw, err := marshalFunc(reflected)
	if err != nil {
		return nil, fmt.Errorf("tooling: marshal schema for %q: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("tooling: compile schema for %q: %w", name, err)
	}
	return &Tool{
		def: domain.ToolDefinition{
			Name:        name,
			Description: description,
			Params:      paramsFromSchema(reflected),
			InputSchema: raw,
		},
		schema: compiled,
		handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in In
			if err := unmarshalFunc(args, &in); err != nil {
				return nil, fmt.Errorf("failed to parse arguments: %w", err)
			}
			return fn(ctx, in)
		},
	}, nil
}

// MustTool is NewTool for statically defined catalogs; it panics on error.
func MustTool[In any](name, description string, fn func(ctx context.Context, in In) (any, error)) *Tool {
	t, err := NewTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the tool name used in function calling.
func (t *Tool) Name() string { return t.def.Name }

// Definition returns the tool's catalog entry.
func (t *Tool) Definition() domain.ToolDefinition { return t.def }

// Validate checks raw JSON arguments against the tool's schema.
func (t *Tool) Validate(args json.RawMessage) error {
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}
	if err := t.schema.Validate(v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Call validates args and runs the handler.
func (t *Tool) Call(ctx context.Context, args json.RawMessage) (any, error) {
	if err := t.Validate(args); err != nil {
		return nil, err
	}
	return t.handler(ctx, args)
}

// paramsFromSchema lists top-level properties in declaration order.
func paramsFromSchema(s *invopopSchema.Schema) []domain.ToolParam {
	if s == nil || s.Properties == nil {
		return nil
	}
	params := make([]domain.ToolParam, 0, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		params = append(params, domain.ToolParam{
			Name:        pair.Key,
			Type:        pair.Value.Type,
			Description: pair.Value.Description,
			Required:    slices.Contains(s.Required, pair.Key),
			Default:     pair.Value.Default,
		})
	}
	return params
}
