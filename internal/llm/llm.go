package llm

import (
	"context"
	"strings"
)

// ShapingPolicy is appended to every caller-supplied instruction set.
const ShapingPolicy = `You are speaking out loud inside a live meeting.
Answer only what was asked. Do not use markdown, lists, headings or code.
Do not open with filler such as "Sure", "Great question" or "Let me think".
Keep the answer to at most three short sentences in a natural, conversational tone.`

const MaxSentences = 3

// Generator produces a spoken reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, systemInstructions string) (string, error)
}

// ComposeInstructions joins caller instructions with the shaping policy.
func ComposeInstructions(system string) string {
	system = strings.TrimSpace(system)
	if system == "" {
		return ShapingPolicy
	}
	return system + "\n\n" + ShapingPolicy
}

// Shape applies the post-processing every generator output goes through.
func Shape(raw string) string {
	return LimitSentences(Sanitize(raw), MaxSentences)
}

// LimitSentences keeps the first n sentences of text.
func LimitSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || text == "" {
		return text
	}
	count := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && text[i+1] != ' ' {
				continue
			}
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}
