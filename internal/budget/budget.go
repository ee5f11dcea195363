// Package budget estimates token usage and trims conversation history so a
// prompt fits the model's context window. The answering and evaluation models
// are pluggable with different tokenizers, so estimation uses a conservative
// character heuristic: 1 token ≈ 4 characters. Under-estimating leaves
// headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	// 4 chars/token holds for English prose; retrieval context skews the
	// same way.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input budget in tokens. Small
	// enough for 8k-context models once the retrieved chunks and the system
	// prompt are counted in.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for msgs, summing
// role and content per message plus a small per-message overhead.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed+history fits
// within maxTokens. fixed holds the parts that must survive trimming: the
// system prompt, the retrieved context, and the current query. The returned
// slice aliases history's tail.
//
// If fixed alone exceeds the budget the whole history is dropped; callers
// decide whether that is worth a warning.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	// History is a handful of turns at most; a linear scan dropping from the
	// front is clear and correct.
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}
