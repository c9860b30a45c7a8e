package session

import (
	"context"
	"time"
)

type State string

const (
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateClosed     State = "closed"
)

// Flusher is implemented by connections that buffer ingress audio locally.
type Flusher interface {
	Flush() bool
}

// Conn is the realtime connection a VoiceSession owns. The registry is its only
// long-lived holder; Close must be safe to call more than once.
type Conn interface {
	SendAudio(ctx context.Context, pcm []byte, sampleRate int) error
	Close() error
}

// VoiceSession is a snapshot of a registry entry. It never exposes the Conn.
type VoiceSession struct {
	MeetingID      string    `json:"meeting_id"`
	Instructions   string    `json:"instructions"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
