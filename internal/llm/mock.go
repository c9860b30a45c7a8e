package llm

import (
	"context"
	"fmt"
	"strings"
)

// Mock provides deterministic local replies when no provider is configured.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Generate(ctx context.Context, prompt, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	base := strings.TrimSpace(prompt)
	if base == "" {
		return "", nil
	}
	return Shape(fmt.Sprintf("I heard you: %s", base)), nil
}
