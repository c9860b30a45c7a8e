package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/protocol"
	"github.com/ent0n29/meetbridge/internal/relay"
)

const (
	streamKeepalive   = 15 * time.Second
	streamQueueLength = 64
)

type ingestAudioRequest struct {
	AudioData  string `json:"audioData"`
	SampleRate int    `json:"sampleRate"`
}

func (s *Server) handleIngestAudio(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	var req ingestAudioRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.AudioData) == "" {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "audioData is required")
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(req.AudioData)
	if err != nil || len(pcm) == 0 {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "audioData must be base64")
		return
	}
	if err := s.Sessions.SendAudio(r.Context(), id, pcm, req.SampleRate); err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"meeting_id": id,
		"bytes":      len(pcm),
	})
}

// handleAudioStream relays synthesized audio to one listener as server-sent
// events until the client goes away.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before announcing the stream so nothing published after
	// "connected" is missed.
	queue := make(chan relay.Chunk, streamQueueLength)
	cleared, unsubscribe := s.Relay.SubscribeStream(id, func(c relay.Chunk) {
		select {
		case queue <- c:
		default:
			s.logger.Warn("audio stream queue full, dropping chunk", "meeting_id", id, "seq", c.Seq)
		}
	})
	s.observeSubscribers()
	defer func() {
		unsubscribe()
		s.observeSubscribers()
	}()

	if err := writeEvent(w, protocol.Connected{Type: protocol.TypeConnected, MeetingID: id}); err != nil {
		return
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("replay")); err == nil && n > 0 {
		for _, c := range s.Relay.Recent(id, n) {
			if err := writeEvent(w, chunkEvent(c)); err != nil {
				return
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-cleared:
			// The session ended; clients reconnect for the next one.
			for len(queue) > 0 {
				if err := writeEvent(w, chunkEvent(<-queue)); err != nil {
					return
				}
			}
			_ = writeEvent(w, protocol.StreamClosed{Type: protocol.TypeStreamClosed, MeetingID: id, Reason: "session_ended"})
			flusher.Flush()
			return
		case c := <-queue:
			if err := writeEvent(w, chunkEvent(c)); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func chunkEvent(c relay.Chunk) protocol.AudioEvent {
	return protocol.NewAudioEvent(c.Timestamp, base64.StdEncoding.EncodeToString(c.Data), len(c.Data))
}

func writeEvent(w http.ResponseWriter, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", b)
	return err
}

func (s *Server) observeSubscribers() {
	if s.Metrics != nil {
		s.Metrics.RelaySubscribers.Set(float64(s.Relay.TotalSubscribers()))
	}
}
