package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/scrobits-tech/queryagent-go/internal/budget"
	"github.com/scrobits-tech/queryagent-go/internal/logging"
	"github.com/scrobits-tech/queryagent-go/internal/workflow"
)

// generatorSystemPrompt establishes the answering model's contract: ground
// every statement in the supplied context, and say so when the context does
// not cover the question instead of inventing an answer.
const generatorSystemPrompt = `You are a question-answering assistant working over a private document collection.

Answer the user's question using ONLY the retrieved context provided to you.
Rules:
- Ground every factual statement in the retrieved context
- If the context does not contain the answer, say so plainly — never invent facts
- If the question carries a refinement instruction after a blank line, it describes
  gaps a previous answer left open; address those gaps directly
- Answer in clear prose without restating the question`

// contextPreamble introduces the retrieved chunks to the model.
const contextPreamble = "Retrieved context for the current question:\n\n"

// Generator drafts answers with an Eino chat model. It implements
// workflow.Generator.
type Generator struct {
	// chat is the LLM backend constructed by the provider factory.
	chat model.ToolCallingChatModel

	// maxContextTokens bounds the estimated input size; history is trimmed
	// oldest-first to fit.
	maxContextTokens int
}

// NewGenerator constructs a Generator. maxContextTokens defaults to
// budget.DefaultMaxContextTokens if zero or negative.
func NewGenerator(chat model.ToolCallingChatModel, maxContextTokens int) (*Generator, error) {
	if chat == nil {
		return nil, fmt.Errorf("llm: generator chat model must not be nil")
	}
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Generator{chat: chat, maxContextTokens: maxContextTokens}, nil
}

// Generate drafts an answer for query given the retrieved docContext and the
// prior conversation. An empty docContext still produces an answer; the
// system prompt makes the model admit missing coverage.
func (g *Generator) Generate(ctx context.Context, query, docContext string, history []workflow.Message) (string, error) {
	fixed := []*schema.Message{schema.SystemMessage(generatorSystemPrompt)}
	if docContext != "" {
		fixed = append(fixed, schema.SystemMessage(contextPreamble+docContext))
	}
	userMsg := schema.UserMessage(query)

	historyMsgs := toSchemaMessages(history)
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(append(fixed, userMsg), historyMsgs, g.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
		)
	}

	// Order: system prompt, trimmed history, retrieved context, user query.
	messages := make([]*schema.Message, 0, len(fixed)+len(historyMsgs)+1)
	messages = append(messages, fixed[0])
	messages = append(messages, historyMsgs...)
	messages = append(messages, fixed[1:]...)
	messages = append(messages, userMsg)

	resp, err := g.chat.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("llm: generation failed: %w", err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("llm: model returned an empty answer")
	}
	return resp.Content, nil
}
