package server

import "testing"

func Test_ExtractAnswer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain answer loses stray single quotes",
			raw:  "  The company's revenue grew in 'Q3'.  \n\n",
			want: "The companys revenue grew in Q3.",
		},
		{
			name: "plain answer untouched otherwise",
			raw:  "Paris is the capital of France.",
			want: "Paris is the capital of France.",
		},
		{
			name: "double-quoted wrapper with escapes",
			raw: `ValidationOutcome(
    call_id='c1',
    raw_llm_output='...',
    validated_output="The answer is \"42\".\nNothing else applies.",
    reask=None,
    validation_passed=True
)`,
			want: "The answer is \"42\".\nNothing else applies.",
		},
		{
			name: "single-quoted wrapper",
			raw:  "ValidationOutcome(validated_output='Paris is the capital.', reask=None)",
			want: "Paris is the capital.",
		},
		{
			name: "single quote in content forces manual scan",
			raw:  "ValidationOutcome(\n    validated_output='It\\'s covered in section 4',\n    reask=None)",
			want: "It's covered in section 4",
		},
		{
			name: "unparseable wrapper yields sentinel",
			raw:  "ValidationOutcome(complete garbage)",
			want: "Error parsing validated output.",
		},
		{
			name: "empty response",
			raw:  "",
			want: "",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := extractAnswer(tc.raw)
			if got != tc.want {
				t.Errorf("extractAnswer(%q):\n got %q\nwant %q", tc.raw, got, tc.want)
			}
		})
	}
}
