package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/transcript"
)

type appendTranscriptRequest struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (s *Server) handleListTranscript(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	entries, err := s.Transcripts.List(r.Context(), id)
	if err != nil {
		s.logger.Error("list transcript failed", "meeting_id", id, "err", err)
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"meeting_id": id,
		"entries":    entries,
	})
}

func (s *Server) handleAppendTranscript(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	var req appendTranscriptRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "text is required")
		return
	}
	speaker := strings.TrimSpace(req.Speaker)
	if speaker == "" {
		speaker = transcript.SpeakerUser
	}
	entry := transcript.Entry{Speaker: speaker, Text: text, Timestamp: time.Now().UTC()}
	if err := s.Transcripts.Append(r.Context(), id, entry); err != nil {
		s.logger.Error("append transcript failed", "meeting_id", id, "err", err)
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}
