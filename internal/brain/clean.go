package brain

import (
	"regexp"
	"strings"
)

// FallbackText replaces an empty final answer.
const FallbackText = "I processed your request but couldn't generate a response. Please try again."

var wholeFence = regexp.MustCompile("(?s)^```\\w*\\n?(.*?)```$")

// CleanResponse strips a code fence that wraps the entire trimmed text and
// returns the trimmed interior. Text with inline or partial fences comes
// back unchanged.
func CleanResponse(text string) string {
	trimmed := strings.TrimSpace(text)
	m := wholeFence.FindStringSubmatch(trimmed)
	if m == nil || strings.Contains(m[1], "```") {
		return text
	}
	return strings.TrimSpace(m[1])
}
