package stt

import (
	"strings"
	"sync"
)

type EventType string

const (
	EventInterim EventType = "interim"
	EventFinal   EventType = "final"
	EventError   EventType = "error"
)

// Event is one recognition event as reported by the browser recognizer.
type Event struct {
	Type  EventType `json:"type"`
	Text  string    `json:"text,omitempty"`
	Error string    `json:"error,omitempty"`
}

type ErrorCategory string

const (
	CategoryNoSpeech         ErrorCategory = "no-speech"
	CategoryPermissionDenied ErrorCategory = "permission-denied"
	CategoryNetwork          ErrorCategory = "network"
	CategoryUnknown          ErrorCategory = "unknown"
)

// Alert is the user-facing form of a recognition error.
type Alert struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
}

// Classify maps a browser recognition error code to a category and message.
func Classify(code string) Alert {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "no-speech", "aborted":
		return Alert{Category: CategoryNoSpeech, Message: "No speech was detected. Try speaking again."}
	case "not-allowed", "service-not-allowed", "permission-denied", "audio-capture":
		return Alert{Category: CategoryPermissionDenied, Message: "Microphone access was denied. Allow microphone access and try again."}
	case "network":
		return Alert{Category: CategoryNetwork, Message: "Speech recognition lost its network connection."}
	default:
		return Alert{Category: CategoryUnknown, Message: "Speech recognition stopped unexpectedly."}
	}
}

// Live filters a stream of browser recognition events. Interim text only
// updates the displayed buffer; finals go to OnFinal; errors go to OnAlert.
type Live struct {
	OnFinal func(text string)
	OnAlert func(Alert)

	mu      sync.Mutex
	interim string
}

// Handle processes one event and returns the interim buffer after it.
func (l *Live) Handle(ev Event) string {
	switch ev.Type {
	case EventInterim:
		l.mu.Lock()
		l.interim = strings.TrimSpace(ev.Text)
		out := l.interim
		l.mu.Unlock()
		return out
	case EventFinal:
		l.mu.Lock()
		l.interim = ""
		l.mu.Unlock()
		text := strings.TrimSpace(ev.Text)
		if text != "" && l.OnFinal != nil {
			l.OnFinal(text)
		}
		return ""
	case EventError:
		if l.OnAlert != nil {
			l.OnAlert(Classify(ev.Error))
		}
	}
	return l.Interim()
}

func (l *Live) Interim() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interim
}
