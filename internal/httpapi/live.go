package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/protocol"
	"github.com/ent0n29/meetbridge/internal/stt"
	"github.com/ent0n29/meetbridge/internal/turn"
)

const (
	liveReadTimeout  = 120 * time.Second
	liveWriteTimeout = 10 * time.Second
	liveQueueLength  = 256
)

// handleLive carries browser recognition events in and turn events out for one
// meeting. Finals start turns in the background so the reader keeps draining.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if s.Metrics != nil {
		s.Metrics.SessionEvent("live_connected")
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, liveQueueLength)
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Keep websocket writes single-threaded; drop when the queue is saturated.
			s.logger.Warn("live outbound queue full, dropping event", "meeting_id", id)
		}
	}

	unwatch := s.Turns.Watch(id, send)
	defer unwatch()

	live := &stt.Live{
		OnFinal: func(text string) {
			machine, ok := s.Turns.Get(id)
			if !ok {
				send(noSessionEvent(id))
				return
			}
			go func() {
				if _, err := machine.HandleFinal(ctx, text); err != nil {
					send(turnErrorEvent(id, err))
				}
			}()
		},
		OnAlert: func(a stt.Alert) {
			send(protocol.Alert{
				Type:      protocol.TypeAlert,
				MeetingID: id,
				Category:  string(a.Category),
				Message:   a.Message,
			})
		},
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	state := turn.StateIdle
	if machine, ok := s.Turns.Get(id); ok {
		state = machine.State()
	}
	send(protocol.StateEvent{Type: protocol.TypeState, MeetingID: id, State: string(state)})

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(liveReadTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				MeetingID: id,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			})
			continue
		}
		s.dispatchLive(ctx, id, live, parsed, send)
	}

	cancel()
	<-writerDone
	if s.Metrics != nil {
		s.Metrics.SessionEvent("live_disconnected")
	}
}

// dispatchLive resolves the meeting's machine per event: the session behind
// the socket may end or be recreated while the socket stays open.
func (s *Server) dispatchLive(ctx context.Context, id string, live *stt.Live, msg any, send func(any)) {
	switch m := msg.(type) {
	case protocol.Recognition:
		interim := live.Handle(stt.Event{Type: stt.EventType(m.Type), Text: m.Text, Error: m.Error})
		if m.Type == protocol.TypeInterim {
			if machine, ok := s.Turns.Get(id); ok {
				machine.SetInterim(interim)
			}
		}
	case protocol.Control:
		machine, ok := s.Turns.Get(id)
		if !ok {
			send(noSessionEvent(id))
			return
		}
		if m.Action == "start" {
			machine.SetAutoRelisten(true)
			if err := machine.StartListening(); err != nil {
				send(turnErrorEvent(id, err))
			}
			return
		}
		machine.SetAutoRelisten(false)
		// Audio still buffered becomes the last turn; the machine goes idle
		// when it ends.
		if !s.Sessions.Flush(id) {
			machine.StopListening()
		}
	case protocol.AudioChunk:
		pcm, err := base64.StdEncoding.DecodeString(m.AudioBase64)
		if err != nil {
			send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, MeetingID: id, Code: "invalid_audio", Detail: "audio_base64 must be base64"})
			return
		}
		if err := s.Sessions.SendAudio(ctx, id, pcm, m.SampleRate); err != nil {
			send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, MeetingID: id, Code: "audio_rejected", Detail: apperr.PublicMessage(err)})
		}
	}
}

func noSessionEvent(meetingID string) protocol.ErrorEvent {
	return protocol.ErrorEvent{Type: protocol.TypeErrorEvent, MeetingID: meetingID, Code: "no_session", Detail: "no active voice session for meeting"}
}

func turnErrorEvent(meetingID string, err error) protocol.ErrorEvent {
	code := "turn_failed"
	switch {
	case errors.Is(err, turn.ErrBusy):
		code = "turn_busy"
	case errors.Is(err, turn.ErrNotListening):
		code = "not_listening"
	}
	return protocol.ErrorEvent{Type: protocol.TypeErrorEvent, MeetingID: meetingID, Code: code, Detail: err.Error()}
}
