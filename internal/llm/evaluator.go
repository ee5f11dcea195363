package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/scrobits-tech/queryagent-go/internal/budget"
	"github.com/scrobits-tech/queryagent-go/internal/workflow"
)

// evaluatorSystemPrompt makes the judging model emit a machine-readable
// verdict. The feedback field feeds the next pass's refinement instruction,
// so it must name concrete gaps, not restate the verdict.
const evaluatorSystemPrompt = `You are a strict quality judge for answers produced by a retrieval-based assistant.

You are given a conversation and the assistant's latest draft answer. Judge whether
the draft adequately answers the user's most recent question: complete, grounded,
and directly responsive.

Respond with ONLY a JSON object in this exact shape — no markdown fencing, no text
outside the JSON:

{"verdict": "pass", "feedback": ""}

or

{"verdict": "fail", "feedback": "<what the answer is missing or gets wrong, as a concrete instruction for the next attempt>"}

Rules:
- "pass" only when the answer fully addresses the question
- On "fail", feedback must name the specific gaps — never leave it empty`

// verdictEnvelope is the judging model's JSON reply.
type verdictEnvelope struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback"`
}

// Evaluator judges draft answers with an Eino chat model. It implements
// workflow.Evaluator.
type Evaluator struct {
	// chat is the LLM backend constructed by the provider factory.
	chat model.ToolCallingChatModel

	// maxContextTokens bounds the estimated input size.
	maxContextTokens int
}

// NewEvaluator constructs an Evaluator. maxContextTokens defaults to
// budget.DefaultMaxContextTokens if zero or negative.
func NewEvaluator(chat model.ToolCallingChatModel, maxContextTokens int) (*Evaluator, error) {
	if chat == nil {
		return nil, fmt.Errorf("llm: evaluator chat model must not be nil")
	}
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Evaluator{chat: chat, maxContextTokens: maxContextTokens}, nil
}

// Evaluate judges answer against the prior conversation. A reply the judge
// model produces that cannot be parsed as a verdict is an error, not a
// silent fail: the caller treats evaluator errors as fatal and must not
// loop on garbage.
func (e *Evaluator) Evaluate(ctx context.Context, answer string, history []workflow.Message) (workflow.Verdict, error) {
	fixed := []*schema.Message{schema.SystemMessage(evaluatorSystemPrompt)}
	userMsg := schema.UserMessage("Draft answer to judge:\n\n" + answer)

	historyMsgs := toSchemaMessages(history)
	historyMsgs = budget.TrimHistory(append(fixed, userMsg), historyMsgs, e.maxContextTokens)

	messages := make([]*schema.Message, 0, len(historyMsgs)+2)
	messages = append(messages, fixed[0])
	messages = append(messages, historyMsgs...)
	messages = append(messages, userMsg)

	resp, err := e.chat.Generate(ctx, messages)
	if err != nil {
		return workflow.Verdict{}, fmt.Errorf("llm: evaluation failed: %w", err)
	}
	if resp == nil {
		return workflow.Verdict{}, fmt.Errorf("llm: evaluator returned no message")
	}
	return parseVerdict(resp.Content)
}

// parseVerdict extracts the verdict JSON from the judge model's reply.
// Models wrap JSON in markdown fences often enough that the fences are
// stripped before unmarshalling.
func parseVerdict(raw string) (workflow.Verdict, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var env verdictEnvelope
	if err := json.Unmarshal([]byte(cleaned), &env); err != nil {
		return workflow.Verdict{}, fmt.Errorf("llm: failed to parse evaluator verdict: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(env.Verdict)) {
	case "pass":
		return workflow.Verdict{Pass: true}, nil
	case "fail":
		return workflow.Verdict{Pass: false, Feedback: strings.TrimSpace(env.Feedback)}, nil
	default:
		return workflow.Verdict{}, fmt.Errorf("llm: evaluator verdict %q is neither pass nor fail", env.Verdict)
	}
}
