package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/scrobits-tech/queryagent-go/internal/namespace"
	"github.com/scrobits-tech/queryagent-go/internal/vectorstore"
)

// ---------------------------------------------------------------------------
// Fake stage collaborators
// ---------------------------------------------------------------------------

// fakeSource records queries and returns a fixed context or error.
type fakeSource struct {
	context string
	err     error
	calls   []string
}

func (f *fakeSource) Query(_ context.Context, text, ns string) (string, error) {
	f.calls = append(f.calls, ns+"|"+text)
	if f.err != nil {
		return "", f.err
	}
	return f.context, nil
}

// fakeGenerator returns "draft-N" for the N-th call and records the queries
// and contexts it was given.
type fakeGenerator struct {
	err      error
	queries  []string
	contexts []string
}

func (f *fakeGenerator) Generate(_ context.Context, query, docContext string, _ []Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.queries = append(f.queries, query)
	f.contexts = append(f.contexts, docContext)
	return fmt.Sprintf("draft-%d", len(f.queries)), nil
}

// scriptedEvaluator returns verdicts in order, repeating the last one.
type scriptedEvaluator struct {
	verdicts []Verdict
	err      error
	calls    int
}

func (f *scriptedEvaluator) Evaluate(_ context.Context, _ string, _ []Message) (Verdict, error) {
	if f.err != nil {
		return Verdict{}, f.err
	}
	i := f.calls
	if i >= len(f.verdicts) {
		i = len(f.verdicts) - 1
	}
	f.calls++
	return f.verdicts[i], nil
}

func newTestController(t *testing.T, src ContextSource, gen Generator, eval Evaluator, maxRetries int) *Controller {
	t.Helper()
	c, err := NewController(src, gen, eval, &Config{MaxRetries: maxRetries})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func runConfig() InvocationConfig {
	return InvocationConfig{ThreadID: "t1", Namespace: "tenant-a"}
}

// ---------------------------------------------------------------------------
// Loop behavior
// ---------------------------------------------------------------------------

func Test_Run_PassOnFirstPass(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: true}}}
	c := newTestController(t, src, gen, eval, 2)

	final, err := c.Run(context.Background(), NewState(nil, "what is X?"), runConfig())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if final.RetryCount != 1 {
		t.Errorf("want exactly 1 retrieval pass, got %d", final.RetryCount)
	}
	if final.Evaluation != EvalPass {
		t.Errorf("want pass verdict, got %q", final.Evaluation)
	}
	if final.QueryResponse != "draft-1" {
		t.Errorf("want first draft as response, got %q", final.QueryResponse)
	}
	if final.Instruction != "" {
		t.Errorf("refinement must not run on a pass, instruction = %q", final.Instruction)
	}
}

func Test_Run_AlwaysFailExhaustsRetries(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: false, Feedback: "missing the date"}}}
	c := newTestController(t, src, gen, eval, 2)

	final, err := c.Run(context.Background(), NewState(nil, "what is X?"), runConfig())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// MaxRetries=2 allows exactly 3 retrieval passes; the best-available
	// last draft is the answer, not an error.
	if final.RetryCount != 3 {
		t.Errorf("want 3 retrieval passes, got %d", final.RetryCount)
	}
	if final.QueryResponse != "draft-3" {
		t.Errorf("want third draft as response, got %q", final.QueryResponse)
	}
	if final.Evaluation != EvalFail {
		t.Errorf("want fail verdict at exhaustion, got %q", final.Evaluation)
	}
	if len(gen.queries) != 3 {
		t.Errorf("want 3 generator calls, got %d", len(gen.queries))
	}
}

func Test_Run_SecondPassCarriesInstruction(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{
		{Pass: false, Feedback: "cover the 2024 initiative"},
		{Pass: true},
	}}
	c := newTestController(t, src, gen, eval, 2)

	final, err := c.Run(context.Background(), NewState(nil, "what is X?"), runConfig())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if final.RetryCount != 2 {
		t.Fatalf("want 2 passes, got %d", final.RetryCount)
	}
	want := "what is X?\n\ncover the 2024 initiative"
	if gen.queries[1] != want {
		t.Errorf("second pass query: want %q, got %q", want, gen.queries[1])
	}
	// The facade always receives the raw user query, never the augmented one.
	for _, call := range src.calls {
		if strings.Contains(call, "cover the 2024") {
			t.Errorf("instruction leaked into the embedded query: %q", call)
		}
	}
}

func Test_Run_FailWithoutFeedbackStillRefines(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{
		{Pass: false},
		{Pass: true},
	}}
	c := newTestController(t, src, gen, eval, 2)

	final, err := c.Run(context.Background(), NewState(nil, "what is X?"), runConfig())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.RetryCount != 2 {
		t.Fatalf("want 2 passes, got %d", final.RetryCount)
	}
	if !strings.Contains(gen.queries[1], "\n\n") {
		t.Errorf("second pass must carry a non-empty instruction, got query %q", gen.queries[1])
	}
}

func Test_Run_NoResultsIsNotFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: vectorstore.ErrNoResults}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: true}}}
	c := newTestController(t, src, gen, eval, 2)

	final, err := c.Run(context.Background(), NewState(nil, "what is X?"), runConfig())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if final.RetryCount != 1 {
		t.Errorf("want 1 pass, got %d", final.RetryCount)
	}
	if gen.contexts[0] != "" {
		t.Errorf("want empty context on no results, got %q", gen.contexts[0])
	}
}

// ---------------------------------------------------------------------------
// Failure propagation
// ---------------------------------------------------------------------------

func Test_Run_RetrievalFailureIsFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("index unreachable")}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: true}}}
	c := newTestController(t, src, gen, eval, 2)

	_, err := c.Run(context.Background(), NewState(nil, "what is X?"), runConfig())
	if err == nil {
		t.Fatal("want fatal error on retrieval failure, got nil")
	}
	if len(gen.queries) != 0 {
		t.Errorf("generator must not run after a retrieval failure, ran %d times", len(gen.queries))
	}
}

func Test_Run_GenerationFailureIsFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: true}}}
	c := newTestController(t, src, gen, eval, 2)

	if _, err := c.Run(context.Background(), NewState(nil, "q"), runConfig()); err == nil {
		t.Fatal("want fatal error on generation failure, got nil")
	}
	if eval.calls != 0 {
		t.Errorf("evaluator must not run after a generation failure, ran %d times", eval.calls)
	}
}

func Test_Run_EvaluatorFailureIsFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{err: errors.New("judge unavailable")}
	c := newTestController(t, src, gen, eval, 2)

	if _, err := c.Run(context.Background(), NewState(nil, "q"), runConfig()); err == nil {
		t.Fatal("want fatal error on evaluator failure, got nil")
	}
}

func Test_Run_MissingNamespaceRejectedBeforeAnyStage(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: true}}}
	c := newTestController(t, src, gen, eval, 2)

	_, err := c.Run(context.Background(), NewState(nil, "q"), InvocationConfig{ThreadID: "t1"})
	if !errors.Is(err, namespace.ErrMissing) {
		t.Fatalf("want namespace.ErrMissing, got %v", err)
	}
	if len(src.calls) != 0 {
		t.Errorf("no stage may run without a namespace, source was called %d times", len(src.calls))
	}
}

func Test_Run_AmbientNamespaceFallback(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: true}}}
	c := newTestController(t, src, gen, eval, 2)

	ctx := namespace.WithNamespace(context.Background(), "ambient-tenant")
	if _, err := c.Run(ctx, NewState(nil, "q"), InvocationConfig{ThreadID: "t1"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(src.calls) != 1 || !strings.HasPrefix(src.calls[0], "ambient-tenant|") {
		t.Errorf("want retrieval scoped to ambient namespace, calls = %v", src.calls)
	}
}

func Test_Run_CancellationAbortsAtStageBoundary(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: false}}}
	c := newTestController(t, src, gen, eval, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Run(ctx, NewState(nil, "q"), runConfig())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("want ErrCancelled, got %v", err)
	}
	if len(src.calls) != 0 {
		t.Errorf("no stage may run after cancellation, source was called %d times", len(src.calls))
	}
}

// ---------------------------------------------------------------------------
// State discipline
// ---------------------------------------------------------------------------

func Test_Run_InputStateIsNotMutated(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: true}}}
	c := newTestController(t, src, gen, eval, 2)

	initial := NewState([]Message{{Role: RoleUser, Content: "earlier"}, {Role: RoleAssistant, Content: "reply"}}, "now")
	msgsBefore := len(initial.Messages)

	if _, err := c.Run(context.Background(), initial, runConfig()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(initial.Messages) != msgsBefore || initial.RetryCount != 0 || initial.QueryResponse != "" {
		t.Errorf("initial state was mutated: %+v", initial)
	}
}

func Test_Run_MessagesAppendOnlyAndOrdered(t *testing.T) {
	t.Parallel()

	src := &fakeSource{context: "ctx"}
	gen := &fakeGenerator{}
	eval := &scriptedEvaluator{verdicts: []Verdict{{Pass: false, Feedback: "gap"}, {Pass: true}}}
	c := newTestController(t, src, gen, eval, 2)

	final, err := c.Run(context.Background(), NewState(nil, "q"), runConfig())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantRoles := []Role{RoleUser, RoleAssistant, RoleAssistant}
	if len(final.Messages) != len(wantRoles) {
		t.Fatalf("want %d messages, got %d", len(wantRoles), len(final.Messages))
	}
	for i, r := range wantRoles {
		if final.Messages[i].Role != r {
			t.Errorf("message[%d]: want role %q, got %q", i, r, final.Messages[i].Role)
		}
	}
	if final.Messages[2].Content != "draft-2" {
		t.Errorf("latest message must be the final draft, got %q", final.Messages[2].Content)
	}
}
