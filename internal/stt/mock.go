package stt

import "context"

// MockRecognizer is used when no recognition backend is configured.
type MockRecognizer struct {
	Text string
}

func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{Text: "simulated voice input"}
}

func (m *MockRecognizer) Name() string { return "mock_stt" }

func (m *MockRecognizer) Recognize(_ context.Context, _ []byte, _ int) (string, error) {
	return m.Text, nil
}
