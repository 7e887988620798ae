package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"quartermaster/internal/domain"
)

const (
	geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

	// DefaultGeminiModel is used when the agent config names no model.
	DefaultGeminiModel = "gemini-2.0-flash"

	errorBodyLimit = 512
)

// GeminiModel calls the Gemini generateContent API with function calling.
type GeminiModel struct {
	apiKey      string
	model       string
	client      *http.Client
	baseURL     string
	marshalFunc func(v any) ([]byte, error) // for testing
}

// NewGeminiModel returns a Gemini-backed ChatModel.
func NewGeminiModel(apiKey, model string) *GeminiModel {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiModel{
		apiKey:      apiKey,
		model:       model,
		client:      &http.Client{Timeout: 120 * time.Second},
		baseURL:     geminiAPIBase,
		marshalFunc: json.Marshal,
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
	Tools    []geminiTool    `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Parameters  *geminiSchema `json:"parameters,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// Chat implements domain.ChatModel.
func (m *GeminiModel) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := buildGeminiRequest(req)
	if err != nil {
		return nil, err
	}
	raw, err := m.marshalFunc(body)
	if err != nil {
		return nil, fmt.Errorf("gemini marshal: %w", err)
	}
	url := fmt.Sprintf("%s/%s:generateContent", m.baseURL, m.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", m.apiKey)

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("gemini api: %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gemini decode: %w", err)
	}
	if len(out.Candidates) == 0 {
		if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("gemini: prompt blocked: %s", out.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("gemini: no candidates in response")
	}

	chat := &domain.ChatResponse{}
	for _, part := range out.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			chat.ToolCalls = append(chat.ToolCalls, domain.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
			continue
		}
		chat.Text += part.Text
	}
	return chat, nil
}

func buildGeminiRequest(req domain.ChatRequest) (geminiRequest, error) {
	body := geminiRequest{Contents: make([]geminiContent, 0, len(req.Messages))}
	for _, msg := range req.Messages {
		body.Contents = append(body.Contents, toGeminiContent(msg))
	}
	if len(req.Tools) == 0 {
		return body, nil
	}
	decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
	for _, def := range req.Tools {
		params, err := convertSchema(def.InputSchema)
		if err != nil {
			return geminiRequest{}, fmt.Errorf("gemini: tool %q: %w", def.Name, err)
		}
		decls = append(decls, geminiFunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	body.Tools = []geminiTool{{FunctionDeclarations: decls}}
	return body, nil
}

// toGeminiContent maps one turn to Gemini parts. Call ids are not sent back;
// Gemini pairs responses with calls by name and position.
func toGeminiContent(msg domain.Message) geminiContent {
	c := geminiContent{Role: string(msg.Role)}
	if msg.Text != "" {
		c.Parts = append(c.Parts, geminiPart{Text: msg.Text})
	}
	for _, call := range msg.ToolCalls {
		c.Parts = append(c.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
			Name: call.Name,
			Args: call.Args,
		}})
	}
	for _, res := range msg.ToolResults {
		c.Parts = append(c.Parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
			Name:     res.Name,
			Response: map[string]any{"result": res.Content},
		}})
	}
	if len(c.Parts) == 0 {
		c.Parts = []geminiPart{{Text: ""}}
	}
	return c
}

var _ domain.ChatModel = (*GeminiModel)(nil)
