// Package realtime provides the connections a voice session owns: a streaming
// recognizer socket, or a local buffer that runs batch recognition on pauses.
package realtime

import (
	"context"
	"errors"

	"github.com/ent0n29/meetbridge/internal/session"
)

var ErrClosed = errors.New("realtime connection closed")

// Callbacks receive recognizer output. They run on the connection's read
// goroutine and must not block for long.
type Callbacks struct {
	OnPartial    func(text string)
	OnTranscript func(text string)
	OnError      func(code, detail string)
}

func (c Callbacks) partial(text string) {
	if c.OnPartial != nil {
		c.OnPartial(text)
	}
}

func (c Callbacks) transcript(text string) {
	if c.OnTranscript != nil && text != "" {
		c.OnTranscript(text)
	}
}

func (c Callbacks) fail(code, detail string) {
	if c.OnError != nil {
		c.OnError(code, detail)
	}
}

// Dialer opens the connection for a meeting's voice session.
type Dialer interface {
	Dial(ctx context.Context, meetingID string) (session.Conn, error)
}

type DialerFunc func(ctx context.Context, meetingID string) (session.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, meetingID string) (session.Conn, error) {
	return f(ctx, meetingID)
}
