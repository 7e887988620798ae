package brain

import "quartermaster/internal/domain"

const (
	systemAck = "Understood. I'm ready to help with regiment logistics."

	historyFraming = "Here is the recent conversation for context. This is ONLY for understanding " +
		"references like 'the first one' or 'yes'. The data in these messages may be stale, so " +
		"you MUST still call tools to get current data for every new question."
	historyAck = "Understood. I'll use this history only for conversational context and will always call tools for fresh data."
)

// BuildContext returns the seed turns handed to the model before the live
// user message: the system instructions and acknowledgment, then, when there
// is prior history, a framing pair followed by the prior turns in order.
func BuildContext(systemInstructions string, prior []domain.Message) []domain.Message {
	seed := make([]domain.Message, 0, 4+len(prior))
	seed = append(seed,
		domain.Message{Role: domain.RoleUser, Text: "System instructions: " + systemInstructions},
		domain.Message{Role: domain.RoleModel, Text: systemAck},
	)
	if len(prior) == 0 {
		return seed
	}
	seed = append(seed,
		domain.Message{Role: domain.RoleUser, Text: historyFraming},
		domain.Message{Role: domain.RoleModel, Text: historyAck},
	)
	return append(seed, prior...)
}
