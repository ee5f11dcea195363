// Package workflow implements the bounded retrieve → evaluate → refine loop
// that produces an answer for a user query. Each stage is a pure function
// from an input state and the per-invocation config to a new state value;
// the controller owns the only mutation by constructing the next state, and
// enforces termination structurally rather than by convention.
package workflow

import "slices"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the end user.
	RoleUser Role = "user"
	// RoleAssistant is a draft or final answer produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	// Role is the author of the message.
	Role Role
	// Content is the text of the message.
	Content string
}

// EvalState is the tri-valued evaluation verdict threaded through the loop.
type EvalState string

const (
	// EvalUnset means no evaluation has run since the last retrieval pass.
	EvalUnset EvalState = ""
	// EvalPass means the draft answer was judged adequate.
	EvalPass EvalState = "pass"
	// EvalFail means the draft answer was judged inadequate.
	EvalFail EvalState = "fail"
)

// State is the unit of work threaded through one controller run. It is a
// value type: stages never mutate their input, they return a new State.
type State struct {
	// Messages is the ordered conversation, append-only within a run. The
	// most recent entry is always the subject of the current stage.
	Messages []Message

	// Instruction is the free-text refinement directive steering the next
	// retrieval pass. Empty string means no override.
	Instruction string

	// Evaluation is the current verdict; reset to EvalUnset at the start of
	// every retrieval pass.
	Evaluation EvalState

	// RetryCount is incremented exactly once per retrieval pass and never
	// decreases within a run.
	RetryCount int

	// QueryResponse is the last materialized answer, exposed at loop exit.
	QueryResponse string

	// Feedback is the evaluation stage's hand-off payload describing the
	// gaps a failed draft left open; consumed by the refinement stage.
	Feedback string
}

// NewState builds the initial state for a run from the user's message,
// preceded by any replayed conversation history.
func NewState(history []Message, userMessage string) State {
	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: RoleUser, Content: userMessage})
	return State{Messages: msgs}
}

// withMessage returns a copy of s with m appended. The message slice is
// cloned so the input state's backing array is never shared.
func (s State) withMessage(m Message) State {
	s.Messages = append(slices.Clone(s.Messages), m)
	return s
}

// lastUserMessage returns the content of the most recent user-role message
// and true, or "" and false when the conversation holds none.
func (s State) lastUserMessage() (string, int, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content, i, true
		}
	}
	return "", -1, false
}

// InvocationConfig carries the per-run identity resolved once at the request
// boundary. The controller passes it through unchanged so namespace and
// conversation identity are never recomputed mid-loop.
type InvocationConfig struct {
	// ThreadID is the conversation identity used by the backing store.
	ThreadID string

	// Namespace is the tenant partition all retrieval in this run touches.
	Namespace string
}
