package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/logging"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips acknowledgement followed by filler",
			in:   "Sure, give me a second. The budget is **ten** dollars.",
			want: "The budget is ten dollars.",
		},
		{
			name: "keeps a bare acknowledgement",
			in:   "Yes.",
			want: "Yes.",
		},
		{
			name: "flattens list markers",
			in:   "- First item\n- Second item",
			want: "First item Second item",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the docs](https://example.com/docs) first.",
			want: "Read the docs first.",
		},
		{
			name: "drops stock compliment",
			in:   "Great question! The meeting starts at noon.",
			want: "The meeting starts at noon.",
		},
		{
			name: "removes code",
			in:   "```go\nfmt.Println()\n```\nRun `make test` now.",
			want: "Run now.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestLimitSentences(t *testing.T) {
	if got := LimitSentences("One. Two! Three? Four.", 3); got != "One. Two! Three?" {
		t.Fatalf("got %q", got)
	}
	if got := LimitSentences("Version 1.5 is out. Next.", 1); got != "Version 1.5 is out." {
		t.Fatalf("decimal split: got %q", got)
	}
	if got := LimitSentences("no terminator here", 3); got != "no terminator here" {
		t.Fatalf("got %q", got)
	}
}

func TestComposeInstructionsAppendsPolicy(t *testing.T) {
	got := ComposeInstructions("  You are Ada.  ")
	if !strings.HasPrefix(got, "You are Ada.\n\n") || !strings.HasSuffix(got, ShapingPolicy) {
		t.Fatalf("ComposeInstructions() = %q", got)
	}
	if ComposeInstructions("") != ShapingPolicy {
		t.Fatalf("empty instructions should yield policy only")
	}
}

func TestGeminiWithoutKeyIsConfigurationError(t *testing.T) {
	g, err := NewGemini(context.Background(), GeminiConfig{}, nil, logging.Discard())
	if err != nil {
		t.Fatalf("NewGemini() error = %v", err)
	}
	_, err = g.Generate(context.Background(), "hello", "")
	if !apperr.IsCode(err, apperr.CodeConfiguration) {
		t.Fatalf("err = %v, want configuration", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestGeminiShapesOutputAndPassesInstructions(t *testing.T) {
	var gotSystem, gotPrompt string
	g := &Gemini{
		logger: logging.Discard(),
		complete: func(_ context.Context, system, prompt string) (string, error) {
			gotSystem, gotPrompt = system, prompt
			return "Sure, one moment. **Noon.** Then lunch. Then review. Then demos.", nil
		},
	}

	out, err := g.Generate(context.Background(), "when do we start?", "You are Ada.")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "Noon. Then lunch. Then review." {
		t.Fatalf("out = %q", out)
	}
	if gotPrompt != "when do we start?" {
		t.Fatalf("prompt = %q", gotPrompt)
	}
	if !strings.HasPrefix(gotSystem, "You are Ada.") || !strings.Contains(gotSystem, ShapingPolicy) {
		t.Fatalf("system = %q", gotSystem)
	}
}

func TestGeminiProviderFailure(t *testing.T) {
	upstream := errors.New("connection reset")
	calls := 0
	g := &Gemini{
		logger: logging.Discard(),
		complete: func(context.Context, string, string) (string, error) {
			calls++
			return "", upstream
		},
	}
	_, err := g.Generate(context.Background(), "hi", "")
	if !apperr.IsCode(err, apperr.CodeProvider) || !errors.Is(err, upstream) {
		t.Fatalf("err = %v, want provider wrapping upstream", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly one attempt", calls)
	}
}

func TestMockGenerator(t *testing.T) {
	out, err := NewMock().Generate(context.Background(), "status update", "")
	if err != nil || out != "I heard you: status update" {
		t.Fatalf("out = %q err = %v", out, err)
	}
}
