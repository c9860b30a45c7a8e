package turn

import (
	"errors"
	"fmt"
)

type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateGenerating   State = "generating"
	StateSynthesizing State = "synthesizing"
	StatePublishing   State = "publishing"
	StateError        State = "error"
)

var (
	ErrInvalidTransition = errors.New("invalid turn state transition")
	// ErrBusy is returned when a turn is already running for the meeting.
	ErrBusy = errors.New("a turn is already in progress")
	// ErrNotListening is returned when an utterance arrives while idle.
	ErrNotListening = errors.New("not listening")
)

// edges lists the legal transitions. Error is reachable from every in-turn
// state and only leads back to Idle.
var edges = map[State][]State{
	StateIdle:         {StateListening},
	StateListening:    {StateIdle, StateTranscribing},
	StateTranscribing: {StateGenerating, StateIdle, StateError},
	StateGenerating:   {StateSynthesizing, StateIdle, StateError},
	StateSynthesizing: {StatePublishing, StateIdle, StateError},
	StatePublishing:   {StateIdle, StateError},
	StateError:        {StateIdle},
}

func transition(from, to State) error {
	for _, next := range edges[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// inTurn reports whether a turn is running in state s.
func inTurn(s State) bool {
	switch s {
	case StateTranscribing, StateGenerating, StateSynthesizing, StatePublishing:
		return true
	default:
		return false
	}
}
