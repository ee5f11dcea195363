package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scrobits-tech/queryagent-go/internal/logging"
	"github.com/scrobits-tech/queryagent-go/internal/namespace"
	"github.com/scrobits-tech/queryagent-go/internal/vectorstore"
)

// ErrCancelled is returned when the run's context is cancelled at a stage
// boundary. The partial state is discarded rather than surfaced as an answer.
var ErrCancelled = errors.New("workflow: run cancelled")

// DefaultMaxRetries bounds the evaluation-driven retry loop when no explicit
// value is configured. With N retries the controller performs at most N+1
// retrieval passes.
const DefaultMaxRetries = 2

// queryInstructionSeparator joins the user query and the active refinement
// instruction when building the augmented query.
const queryInstructionSeparator = "\n\n"

// ContextSource fetches retrieval context for a query within a namespace.
// *vectorstore.Facade satisfies it; tests inject a fake.
type ContextSource interface {
	// Query returns ranked context for text scoped to namespace, or
	// vectorstore.ErrNoResults when the namespace holds nothing relevant.
	Query(ctx context.Context, text, namespace string) (string, error)
}

// Generator produces a draft answer from the augmented query, the retrieved
// context, and the prior conversation.
type Generator interface {
	// Generate returns the draft answer text.
	Generate(ctx context.Context, query, docContext string, history []Message) (string, error)
}

// Verdict is the evaluation stage's judgment of a draft answer.
type Verdict struct {
	// Pass is true when the draft is adequate.
	Pass bool
	// Feedback describes the gaps when Pass is false; it feeds the
	// refinement stage.
	Feedback string
}

// Evaluator judges a draft answer's adequacy against the conversation.
type Evaluator interface {
	// Evaluate returns the verdict for answer given the prior conversation.
	Evaluate(ctx context.Context, answer string, history []Message) (Verdict, error)
}

// phase enumerates the controller's state machine states.
type phase int

const (
	phaseRetrieve phase = iota
	phaseEvaluate
	phaseRefine
	phaseTerminal
)

// Config holds the controller settings.
type Config struct {
	// MaxRetries bounds the evaluation-driven retry loop. The controller
	// performs at most MaxRetries+1 retrieval passes. Defaults to
	// DefaultMaxRetries if zero; negative disables retries entirely.
	MaxRetries int
}

// Controller wires the retrieval, evaluation, and refinement stages into a
// bounded retry loop. It holds no business logic beyond the transition table
// and dispatches to the stage collaborators, passing the invocation config
// through unchanged.
type Controller struct {
	// source provides retrieval context.
	source ContextSource
	// generator drafts answers.
	generator Generator
	// evaluator judges drafts.
	evaluator Evaluator
	// maxRetries is the resolved retry bound.
	maxRetries int
}

// NewController constructs a Controller from its stage collaborators.
func NewController(source ContextSource, generator Generator, evaluator Evaluator, cfg *Config) (*Controller, error) {
	if source == nil {
		return nil, fmt.Errorf("workflow: context source must not be nil")
	}
	if generator == nil {
		return nil, fmt.Errorf("workflow: generator must not be nil")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("workflow: evaluator must not be nil")
	}
	maxRetries := DefaultMaxRetries
	if cfg != nil && cfg.MaxRetries != 0 {
		maxRetries = cfg.MaxRetries
		if maxRetries < 0 {
			maxRetries = 0
		}
	}
	return &Controller{
		source:     source,
		generator:  generator,
		evaluator:  evaluator,
		maxRetries: maxRetries,
	}, nil
}

// Run executes the loop for initial and returns the terminal state. The
// namespace is resolved once before the loop starts; an unresolvable
// namespace is a configuration error and no stage runs. Any stage failure is
// fatal to the run — the evaluation-driven loop is the only retry mechanism.
func (c *Controller) Run(ctx context.Context, initial State, inv InvocationConfig) (State, error) {
	ns, err := namespace.Resolve(ctx, inv.Namespace)
	if err != nil {
		return initial, fmt.Errorf("workflow: %w", err)
	}

	log := logging.FromContext(ctx).With(
		slog.String("thread_id", inv.ThreadID),
		slog.String("namespace", ns),
	)

	state := initial
	current := phaseRetrieve

	// A run is Retrieve → Evaluate, optionally followed by Refine → Retrieve
	// → Evaluate per retry. maxSteps caps the transition count so a
	// misbehaving stage can never stall the loop past its retry budget.
	maxSteps := 2 + 3*c.maxRetries
	for step := 0; current != phaseTerminal; step++ {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if step > maxSteps {
			return state, fmt.Errorf("workflow: transition bound exceeded after %d steps", step)
		}

		switch current {
		case phaseRetrieve:
			state, err = c.retrieve(ctx, state, ns, log)
			if err != nil {
				return state, err
			}
			current = phaseEvaluate

		case phaseEvaluate:
			state, err = c.evaluate(ctx, state, log)
			if err != nil {
				return state, err
			}
			if state.Evaluation == EvalPass || state.RetryCount > c.maxRetries {
				current = phaseTerminal
			} else {
				current = phaseRefine
			}

		case phaseRefine:
			state = c.refine(state, log)
			current = phaseRetrieve
		}
	}

	log.Info("workflow run complete",
		slog.Int("passes", state.RetryCount),
		slog.String("verdict", string(state.Evaluation)),
	)
	return state, nil
}

// retrieve runs one retrieval pass: augment the query with the active
// instruction, fetch context, draft an answer, and construct the next state
// with the evaluation reset and the pass counted.
func (c *Controller) retrieve(ctx context.Context, s State, ns string, log *slog.Logger) (State, error) {
	userQuery, idx, ok := s.lastUserMessage()
	if !ok {
		return s, fmt.Errorf("workflow: retrieval stage: state holds no user message")
	}

	augmented := userQuery
	if s.Instruction != "" {
		augmented = userQuery + queryInstructionSeparator + s.Instruction
	}

	// The raw user query, not the augmented one, is what gets embedded.
	docContext, err := c.source.Query(ctx, userQuery, ns)
	if err != nil {
		if errors.Is(err, vectorstore.ErrNoResults) {
			log.Info("retrieval found no relevant context, answering without it")
			docContext = ""
		} else {
			return s, fmt.Errorf("workflow: retrieval stage: %w", err)
		}
	}

	history := s.Messages[:idx]
	answer, err := c.generator.Generate(ctx, augmented, docContext, history)
	if err != nil {
		return s, fmt.Errorf("workflow: retrieval stage: generation failed: %w", err)
	}

	next := s.withMessage(Message{Role: RoleAssistant, Content: answer})
	next.Evaluation = EvalUnset
	next.RetryCount = s.RetryCount + 1
	next.QueryResponse = answer
	return next, nil
}

// evaluate judges the latest draft. The verdict is never left unset: any
// evaluator error is fatal, and both outcomes set the evaluation state.
func (c *Controller) evaluate(ctx context.Context, s State, log *slog.Logger) (State, error) {
	if len(s.Messages) == 0 || s.Messages[len(s.Messages)-1].Role != RoleAssistant {
		return s, fmt.Errorf("workflow: evaluation stage: latest message is not a draft answer")
	}
	draft := s.Messages[len(s.Messages)-1].Content

	verdict, err := c.evaluator.Evaluate(ctx, draft, s.Messages[:len(s.Messages)-1])
	if err != nil {
		return s, fmt.Errorf("workflow: evaluation stage: %w", err)
	}

	next := s
	if verdict.Pass {
		next.Evaluation = EvalPass
		next.Feedback = ""
	} else {
		next.Evaluation = EvalFail
		next.Feedback = verdict.Feedback
		log.Debug("draft judged inadequate", slog.Int("pass", s.RetryCount))
	}
	return next, nil
}

// defaultInstruction steers the next pass when the evaluator failed a draft
// without naming specific gaps. Refinement must always yield a non-empty
// instruction or the retry would repeat the failed pass verbatim.
const defaultInstruction = "Answer again more precisely. Ground every statement in the retrieved context and address the gaps in the previous answer."

// refine derives the next pass's instruction from the evaluation feedback.
// It touches neither the retry count nor the evaluation state.
func (c *Controller) refine(s State, log *slog.Logger) State {
	instruction := s.Feedback
	if instruction == "" {
		instruction = defaultInstruction
	}

	next := s
	next.Instruction = instruction
	next.Feedback = ""
	log.Debug("refined instruction for next pass", slog.Int("pass", s.RetryCount))
	return next
}
