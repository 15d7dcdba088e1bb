package normalize

import "goa.design/llmrouter/model"

// SplitSystem extracts the leading system message (if any) from msgs,
// matching the Anthropic-family convention of placing the system prompt
// in a distinguished field rather than the message list (§4.A
// System-message handling, grounded on encodeMessages in the teacher's
// features/model/anthropic/client.go).
func SplitSystem(msgs []model.Message) (system string, rest []model.Message) {
	for i, m := range msgs {
		if m.Role == model.RoleSystem {
			if m.Content != nil {
				system = *m.Content
			}
			rest = append(rest, msgs[:i]...)
			rest = append(rest, msgs[i+1:]...)
			return system, rest
		}
	}
	return "", msgs
}
