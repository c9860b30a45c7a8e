package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/turn"
)

type listenRequest struct {
	Action string `json:"action"`
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type utteranceResponse struct {
	turn.Outcome
	Error string `json:"error,omitempty"`
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	var req listenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "invalid JSON body")
		return
	}
	m, ok := s.machine(w, id)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "start":
		if err := m.StartListening(); err != nil {
			respondTurnError(w, err)
			return
		}
	case "stop":
		m.StopListening()
	default:
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), `action must be "start" or "stop"`)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"meeting_id": id,
		"state":      m.State(),
	})
}

// handleUtterance runs one turn from text, as if the recognizer had produced
// it. An idle machine is switched to listening first.
func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	var req utteranceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "invalid JSON body")
		return
	}
	m, ok := s.machine(w, id)
	if !ok {
		return
	}
	if m.State() == turn.StateIdle {
		if err := m.StartListening(); err != nil {
			respondTurnError(w, err)
			return
		}
	}
	out, err := m.HandleFinal(r.Context(), req.Text)
	if err != nil {
		respondTurnError(w, err)
		return
	}
	resp := utteranceResponse{Outcome: out}
	if out.Err != nil {
		resp.Error = apperr.PublicMessage(out.Err)
	}
	respondJSON(w, http.StatusOK, resp)
}

// machine returns the meeting's turn machine. Turns only run inside a live
// session, so a meeting without one is reported as not found.
func (s *Server) machine(w http.ResponseWriter, id string) (*turn.Machine, bool) {
	if !s.Sessions.Exists(id) {
		respondError(w, http.StatusNotFound, string(apperr.CodeNotFound), "no active voice session for meeting")
		return nil, false
	}
	m, ok := s.Turns.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, string(apperr.CodeNotFound), "no active voice session for meeting")
		return nil, false
	}
	return m, true
}

func respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, turn.ErrBusy), errors.Is(err, turn.ErrNotListening):
		respondError(w, http.StatusConflict, string(apperr.CodeConflict), err.Error())
	default:
		respondAppError(w, err)
	}
}
