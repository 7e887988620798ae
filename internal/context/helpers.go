package context

import (
	"encoding/json"
	"strings"

	"quartermaster/internal/domain"
)

// MessageText is the text of a message as counted against the budget: the
// turn's text, then each tool call as "name args" and each tool result's content.
func MessageText(msg domain.Message) string {
	parts := make([]string, 0, 1+len(msg.ToolCalls)+len(msg.ToolResults))
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, c := range msg.ToolCalls {
		args, err := json.Marshal(c.Args)
		if err != nil || len(c.Args) == 0 {
			parts = append(parts, c.Name)
			continue
		}
		parts = append(parts, c.Name+" "+string(args))
	}
	for _, r := range msg.ToolResults {
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, "\n")
}
