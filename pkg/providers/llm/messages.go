package llm

import "github.com/elara-ai/elara-core/pkg/orchestrator"

// flatten turns a StructuredPrompt into the flat (role, content) list every
// chat-completions-shaped API expects: an optional system message first,
// then prior context in order, then the current user turn.
func flatten(prompt orchestrator.StructuredPrompt) []orchestrator.PromptMessage {
	out := make([]orchestrator.PromptMessage, 0, len(prompt.Context)+2)
	if prompt.SystemPrompt != "" {
		out = append(out, orchestrator.PromptMessage{Role: orchestrator.RoleSystem, Content: prompt.SystemPrompt})
	}
	out = append(out, prompt.Context...)
	out = append(out, prompt.User)
	return out
}
