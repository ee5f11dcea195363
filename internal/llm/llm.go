// Package llm adapts Eino chat models to the workflow's generation and
// evaluation stages. Both stages share the same message-building discipline:
// the system prompt and the current turn are fixed, prior conversation is
// trimmed oldest-first to fit the token budget.
package llm

import (
	"github.com/cloudwego/eino/schema"

	"github.com/scrobits-tech/queryagent-go/internal/workflow"
)

// toSchemaMessages converts conversation history into Eino schema messages.
// Unknown roles are dropped rather than guessed at.
func toSchemaMessages(history []workflow.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case workflow.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case workflow.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}
