// Package injection flags chat messages that try to talk the model out of
// its instructions. Matches are logged for regiment officers; the message is
// still answered.
package injection

import "strings"

var phrases = []string{
	"ignore previous",
	"ignore all previous",
	"ignore your instructions",
	"disregard your instructions",
	"system prompt",
	"developer mode",
	"you are now",
	"pretend you are",
}

// Result is the outcome of Scan.
type Result struct {
	Detected bool
	Matched  []string
}

// Scan reports which known phrases text contains, case-insensitively.
func Scan(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}
	}
	lower := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	var matched []string
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			matched = append(matched, p)
		}
	}
	return Result{Detected: len(matched) > 0, Matched: matched}
}
