package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"quartermaster/internal/domain"
)

// maxBodyBytes caps request bodies on the JSON endpoints.
const maxBodyBytes = 1 << 20

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// ToolCallRequest is the body of POST /tools/call.
type ToolCallRequest struct {
	Name      string             `json:"name"`
	Arguments map[string]any     `json:"arguments"`
	Context   domain.TurnContext `json:"context"`
}

// ToolCallResponse carries the tool's JSON result, or its error payload.
type ToolCallResponse struct {
	Result    json.RawMessage `json:"result"`
	IsError   bool            `json:"isError"`
	ElapsedMs int64           `json:"elapsedMs"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string             `json:"message"`
	Context domain.TurnContext `json:"context"`
	History []domain.Message   `json:"history,omitempty"`
}

type ChatResponse struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tools := 0
	if s.deps.Tools != nil {
		tools = len(s.deps.Tools.Definitions())
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": tools})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tools == nil {
		writeError(w, http.StatusServiceUnavailable, "tools are not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.deps.Tools.Definitions()})
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tools == nil {
		writeError(w, http.StatusServiceUnavailable, "tools are not configured")
		return
	}
	var req ToolCallRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	inv := s.deps.Tools.Call(r.Context(), domain.ToolCall{ID: "http", Name: req.Name, Args: req.Arguments}, req.Context)
	writeJSON(w, http.StatusOK, ToolCallResponse{
		Result:    resultJSON(inv.Result.Content),
		IsError:   inv.Result.IsError,
		ElapsedMs: inv.Elapsed.Milliseconds(),
	})
}

// resultJSON passes JSON tool output through and wraps anything else as a
// JSON string.
func resultJSON(content string) json.RawMessage {
	if json.Valid([]byte(content)) {
		return json.RawMessage(content)
	}
	b, _ := json.Marshal(content)
	return b
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Brain == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	text, err := s.deps.Brain.ProcessTurn(r.Context(), req.Message, req.Context, req.History)
	if err != nil {
		s.log().Error("gateway chat failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Text: text, HTML: renderHTML(text)})
}

// renderHTML converts the model's markdown answer. Raw HTML in the answer is dropped.
func renderHTML(md string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}
