package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// jsonSchemaNode is the subset of a reflected JSON Schema that function
// declarations carry. Keywords Gemini rejects ($schema,
// additionalProperties, default) are dropped by omission.
type jsonSchemaNode struct {
	Type        string                                          `json:"type"`
	Description string                                          `json:"description"`
	Enum        []any                                           `json:"enum"`
	Items       *jsonSchemaNode                                 `json:"items"`
	Properties  *orderedmap.OrderedMap[string, *jsonSchemaNode] `json:"properties"`
	Required    []string                                        `json:"required"`
}

// geminiSchema is Gemini's OpenAPI-style schema with upper-case type names.
type geminiSchema struct {
	Type        string                                        `json:"type"`
	Description string                                        `json:"description,omitempty"`
	Enum        []string                                      `json:"enum,omitempty"`
	Items       *geminiSchema                                 `json:"items,omitempty"`
	Properties  *orderedmap.OrderedMap[string, *geminiSchema] `json:"properties,omitempty"`
	Required    []string                                      `json:"required,omitempty"`
}

// convertSchema turns a tool's JSON Schema into a Gemini parameter schema,
// keeping property order. A schema without properties yields nil.
func convertSchema(raw json.RawMessage) (*geminiSchema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var node jsonSchemaNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse input schema: %w", err)
	}
	if node.Properties == nil || node.Properties.Len() == 0 {
		return nil, nil
	}
	return toGeminiSchema(&node), nil
}

func toGeminiSchema(n *jsonSchemaNode) *geminiSchema {
	s := &geminiSchema{
		Type:        strings.ToUpper(n.Type),
		Description: n.Description,
		Required:    n.Required,
	}
	if s.Type == "" {
		s.Type = "STRING"
	}
	for _, v := range n.Enum {
		s.Enum = append(s.Enum, fmt.Sprint(v))
	}
	if n.Items != nil {
		s.Items = toGeminiSchema(n.Items)
	}
	if n.Properties != nil && n.Properties.Len() > 0 {
		s.Properties = orderedmap.New[string, *geminiSchema]()
		for pair := n.Properties.Oldest(); pair != nil; pair = pair.Next() {
			s.Properties.Set(pair.Key, toGeminiSchema(pair.Value))
		}
	}
	return s
}
