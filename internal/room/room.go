// Package room delivers synthesized audio into a live meeting.
package room

import (
	"context"

	"github.com/ent0n29/meetbridge/internal/relay"
)

// Result reports whether anything received the audio. A drop is a normal
// outcome, not an error.
type Result struct {
	Delivered bool   `json:"delivered"`
	Listeners int    `json:"listeners"`
	Backend   string `json:"backend"`
}

type Publisher interface {
	Publish(ctx context.Context, meetingID string, audio []byte) (Result, error)
	Close() error
}

// RelayPublisher hands audio to the in-process relay that feeds SSE listeners.
type RelayPublisher struct {
	relay *relay.Relay
}

func NewRelayPublisher(r *relay.Relay) *RelayPublisher {
	return &RelayPublisher{relay: r}
}

func (p *RelayPublisher) Publish(ctx context.Context, meetingID string, audio []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Backend: "relay"}, err
	}
	d := p.relay.Publish(meetingID, audio)
	return Result{
		Delivered: !d.Dropped(),
		Listeners: d.Subscribers,
		Backend:   "relay",
	}, nil
}

func (p *RelayPublisher) Close() error { return nil }
