package context

import (
	"testing"

	"quartermaster/internal/domain"
)

func TestMessageText_WhenTextOnly_ShouldReturnText(t *testing.T) {
	got := MessageText(domain.Message{Role: domain.RoleUser, Text: "how many bmats?"})

	if got != "how many bmats?" {
		t.Errorf("got %q", got)
	}
}

func TestMessageText_WhenToolCalls_ShouldIncludeNameAndArgs(t *testing.T) {
	msg := domain.Message{
		Role: domain.RoleModel,
		ToolCalls: []domain.ToolCall{
			{Name: "search_inventory", Args: map[string]any{"query": "bmat"}},
			{Name: "get_dashboard_stats"},
		},
	}

	got := MessageText(msg)

	if got != "search_inventory {\"query\":\"bmat\"}\nget_dashboard_stats" {
		t.Errorf("got %q", got)
	}
}

func TestMessageText_WhenToolResults_ShouldIncludeContent(t *testing.T) {
	msg := domain.Message{
		Role:        domain.RoleUser,
		ToolResults: []domain.ToolResult{{Name: "a", Content: `{"total":510}`}, {Name: "b", Content: "{}"}},
	}

	if got := MessageText(msg); got != "{\"total\":510}\n{}" {
		t.Errorf("got %q", got)
	}
}

func TestMessageText_WhenEmpty_ShouldReturnEmptyString(t *testing.T) {
	if got := MessageText(domain.Message{}); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestMessageText_WhenMixed_ShouldPutTextFirst(t *testing.T) {
	msg := domain.Message{Text: "checking", ToolCalls: []domain.ToolCall{{Name: "list_stockpiles"}}}

	if got := MessageText(msg); got != "checking\nlist_stockpiles" {
		t.Errorf("got %q", got)
	}
}
