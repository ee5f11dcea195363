package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/scrobits-tech/queryagent-go/internal/workflow"
)

// fakeChatModel returns a canned reply and records the messages it was
// given.
type fakeChatModel struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported by fake")
}

func (f *fakeChatModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return f, nil
}

func Test_Generator_MessageOrder(t *testing.T) {
	t.Parallel()

	chat := &fakeChatModel{reply: "the answer"}
	gen, err := NewGenerator(chat, 0)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	history := []workflow.Message{
		{Role: workflow.RoleUser, Content: "earlier question"},
		{Role: workflow.RoleAssistant, Content: "earlier answer"},
	}
	got, err := gen.Generate(context.Background(), "current question", "chunk one\n\nchunk two", history)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "the answer" {
		t.Errorf("want canned reply, got %q", got)
	}

	// system prompt, 2 history turns, retrieved context, user query
	if len(chat.got) != 5 {
		t.Fatalf("want 5 messages, got %d", len(chat.got))
	}
	if chat.got[0].Role != schema.System {
		t.Errorf("message[0]: want system prompt, got role %q", chat.got[0].Role)
	}
	if chat.got[1].Content != "earlier question" || chat.got[2].Content != "earlier answer" {
		t.Errorf("history not in order: %q, %q", chat.got[1].Content, chat.got[2].Content)
	}
	if chat.got[3].Role != schema.System || !strings.Contains(chat.got[3].Content, "chunk one") {
		t.Errorf("message[3]: want retrieved context, got %q", chat.got[3].Content)
	}
	if chat.got[4].Role != schema.User || chat.got[4].Content != "current question" {
		t.Errorf("message[4]: want user query, got role %q content %q", chat.got[4].Role, chat.got[4].Content)
	}
}

func Test_Generator_EmptyContextOmitted(t *testing.T) {
	t.Parallel()

	chat := &fakeChatModel{reply: "no coverage"}
	gen, err := NewGenerator(chat, 0)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), "q", "", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(chat.got) != 2 {
		t.Fatalf("want system + user only, got %d messages", len(chat.got))
	}
}

func Test_Generator_EmptyReplyIsError(t *testing.T) {
	t.Parallel()

	gen, err := NewGenerator(&fakeChatModel{reply: ""}, 0)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, err := gen.Generate(context.Background(), "q", "ctx", nil); err == nil {
		t.Fatal("want error on empty model reply, got nil")
	}
}

func Test_Generator_TrimsHistoryToBudget(t *testing.T) {
	t.Parallel()

	chat := &fakeChatModel{reply: "ok"}
	// A budget this small forces every history turn out while keeping the
	// fixed messages intact.
	gen, err := NewGenerator(chat, 1)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	history := []workflow.Message{
		{Role: workflow.RoleUser, Content: strings.Repeat("x", 400)},
		{Role: workflow.RoleAssistant, Content: strings.Repeat("y", 400)},
	}
	if _, err := gen.Generate(context.Background(), "q", "", history); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(chat.got) != 2 {
		t.Errorf("want history trimmed away, got %d messages", len(chat.got))
	}
}

func Test_Evaluator_ParsesVerdicts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		reply    string
		wantPass bool
		wantFb   string
		wantErr  bool
	}{
		{
			name:     "plain pass",
			reply:    `{"verdict": "pass", "feedback": ""}`,
			wantPass: true,
		},
		{
			name:   "fail with feedback",
			reply:  `{"verdict": "fail", "feedback": "does not mention the 2024 deadline"}`,
			wantFb: "does not mention the 2024 deadline",
		},
		{
			name:     "fenced json",
			reply:    "```json\n{\"verdict\": \"pass\", \"feedback\": \"\"}\n```",
			wantPass: true,
		},
		{
			name:     "uppercase verdict",
			reply:    `{"verdict": "PASS", "feedback": ""}`,
			wantPass: true,
		},
		{
			name:    "prose instead of json",
			reply:   "Sure! The answer looks fine to me.",
			wantErr: true,
		},
		{
			name:    "unknown verdict value",
			reply:   `{"verdict": "maybe", "feedback": ""}`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eval, err := NewEvaluator(&fakeChatModel{reply: tc.reply}, 0)
			if err != nil {
				t.Fatalf("NewEvaluator: %v", err)
			}
			v, err := eval.Evaluate(context.Background(), "draft", nil)
			if tc.wantErr {
				if err == nil {
					t.Fatal("want parse error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if v.Pass != tc.wantPass {
				t.Errorf("pass: want %v, got %v", tc.wantPass, v.Pass)
			}
			if v.Feedback != tc.wantFb {
				t.Errorf("feedback: want %q, got %q", tc.wantFb, v.Feedback)
			}
		})
	}
}

func Test_Evaluator_ModelErrorIsFatal(t *testing.T) {
	t.Parallel()

	eval, err := NewEvaluator(&fakeChatModel{err: errors.New("judge down")}, 0)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	if _, err := eval.Evaluate(context.Background(), "draft", nil); err == nil {
		t.Fatal("want error from failing judge model, got nil")
	}
}

func Test_NilModelRejected(t *testing.T) {
	t.Parallel()

	if _, err := NewGenerator(nil, 0); err == nil {
		t.Error("NewGenerator: want error on nil model")
	}
	if _, err := NewEvaluator(nil, 0); err == nil {
		t.Error("NewEvaluator: want error on nil model")
	}
}
