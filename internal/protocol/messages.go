package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies live-socket and SSE payload variants.
type MessageType string

const (
	// Client to server.
	TypeInterim          MessageType = "interim"
	TypeFinal            MessageType = "final"
	TypeRecognitionError MessageType = "error"
	TypeControl          MessageType = "control"
	TypeAudioChunk       MessageType = "audio_chunk"

	// Server to client.
	TypeState       MessageType = "state"
	TypeInterimEcho MessageType = "interim_echo"
	TypeTranscript  MessageType = "transcript"
	TypeTurnEnd     MessageType = "turn_end"
	TypeAlert       MessageType = "alert"
	TypeErrorEvent  MessageType = "error_event"

	// SSE audio stream.
	TypeConnected    MessageType = "connected"
	TypeStreamClosed MessageType = "stream_closed"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Recognition is a browser speech-recognition event.
type Recognition struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"text,omitempty"`
	Error string      `json:"error,omitempty"`
}

type Control struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	AudioBase64 string      `json:"audio_base64"`
	SampleRate  int         `json:"sample_rate"`
}

type StateEvent struct {
	Type      MessageType `json:"type"`
	MeetingID string      `json:"meeting_id"`
	State     string      `json:"state"`
	TurnID    string      `json:"turn_id,omitempty"`
}

type InterimEcho struct {
	Type      MessageType `json:"type"`
	MeetingID string      `json:"meeting_id"`
	Text      string      `json:"text"`
}

type TranscriptEvent struct {
	Type      MessageType `json:"type"`
	MeetingID string      `json:"meeting_id"`
	TurnID    string      `json:"turn_id"`
	Speaker   string      `json:"speaker"`
	Text      string      `json:"text"`
}

type TurnEnd struct {
	Type      MessageType `json:"type"`
	MeetingID string      `json:"meeting_id"`
	TurnID    string      `json:"turn_id"`
	Reason    string      `json:"reason"`
	Delivered bool        `json:"delivered"`
	Listeners int         `json:"listeners"`
}

type Alert struct {
	Type      MessageType `json:"type"`
	MeetingID string      `json:"meeting_id"`
	Category  string      `json:"category"`
	Message   string      `json:"message"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	MeetingID string      `json:"meeting_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

// Connected is the first event on an audio stream.
type Connected struct {
	Type      MessageType `json:"type"`
	MeetingID string      `json:"meetingId"`
}

// StreamClosed is the last event on an audio stream whose meeting ended.
type StreamClosed struct {
	Type      MessageType `json:"type"`
	MeetingID string      `json:"meetingId"`
	Reason    string      `json:"reason"`
}

// AudioEvent carries one relayed chunk on the SSE stream.
type AudioEvent struct {
	Timestamp string `json:"timestamp"`
	AudioData string `json:"audioData"`
	Size      int    `json:"size"`
}

func NewAudioEvent(ts time.Time, audioBase64 string, size int) AudioEvent {
	return AudioEvent{Timestamp: ts.UTC().Format(time.RFC3339Nano), AudioData: audioBase64, Size: size}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeInterim, TypeFinal, TypeRecognitionError:
		var msg Recognition
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeControl:
		var msg Control
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		if msg.Action != "start" && msg.Action != "stop" {
			return nil, errors.New("invalid control action")
		}
		return msg, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.AudioBase64 == "" {
			return nil, errors.New("invalid audio_chunk")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
