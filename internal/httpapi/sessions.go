package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/meeting"
	"github.com/ent0n29/meetbridge/internal/turn"
)

type createSessionRequest struct {
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	if id == "" {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "meeting id is required")
		return
	}
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "invalid JSON body")
		return
	}
	if s.Dialer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "realtime connection not configured")
		return
	}

	agent := meeting.DefaultAgent
	if s.Catalog != nil {
		if a, err := s.Catalog.Agent(r.Context(), id); err == nil {
			agent = a
		}
	}
	instructions := strings.TrimSpace(req.Instructions)
	if instructions == "" {
		instructions = agent.Instructions
	}

	conn, err := s.Dialer.Dial(r.Context(), id)
	if err != nil {
		s.logger.Error("dial realtime connection failed", "meeting_id", id, "err", err)
		if s.Metrics != nil {
			s.Metrics.ObserveProviderError("realtime", "dial_failed")
		}
		respondError(w, http.StatusBadGateway, string(apperr.CodeProvider), "could not open realtime connection")
		return
	}
	if _, err := s.Sessions.Create(id, conn, instructions); err != nil {
		_ = conn.Close()
		respondAppError(w, err)
		return
	}
	if err := s.Sessions.MarkReady(id); err != nil {
		respondAppError(w, err)
		return
	}

	machine := s.Turns.For(id)
	machine.SetAutoRelisten(true)
	if err := machine.StartListening(); err != nil && !errors.Is(err, turn.ErrBusy) {
		s.logger.Warn("start listening failed", "meeting_id", id, "err", err)
	}

	if s.Catalog != nil {
		if title := strings.TrimSpace(req.Title); title != "" {
			if err := s.Catalog.Upsert(r.Context(), meeting.Meeting{ID: id, Title: title, Status: meeting.StatusActive, Agent: agent}); err != nil {
				s.logger.Warn("upsert meeting failed", "meeting_id", id, "err", err)
			}
		} else if err := s.Catalog.SetStatus(r.Context(), id, meeting.StatusActive); err != nil {
			s.logger.Warn("mark meeting active failed", "meeting_id", id, "err", err)
		}
	}
	s.observeSessions("created")

	snapshot, _ := s.Sessions.Get(id)
	respondJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	sess, ok := s.Sessions.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, string(apperr.CodeNotFound), "no active voice session for meeting")
		return
	}
	resp := map[string]any{"session": sess}
	if m, ok := s.Turns.Get(id); ok {
		resp["turn_state"] = m.State()
	}
	respondJSON(w, http.StatusOK, resp)
}

type updateSessionRequest struct {
	Instructions *string `json:"instructions"`
}

// handleUpdateSession replaces the live session's instructions. The next turn
// uses them; a turn already generating keeps what it started with.
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "invalid JSON body")
		return
	}
	if req.Instructions == nil {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "instructions is required")
		return
	}
	if err := s.Sessions.SetInstructions(id, strings.TrimSpace(*req.Instructions)); err != nil {
		respondAppError(w, err)
		return
	}
	snapshot, _ := s.Sessions.Get(id)
	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := meetingID(r)
	existed := s.Sessions.Exists(id)
	s.Sessions.End(id)
	respondJSON(w, http.StatusOK, map[string]any{
		"meeting_id": id,
		"ended":      existed,
	})
}

// OnSessionEnd is installed as the registry's end hook. It runs for explicit
// ends and janitor expiry.
func (s *Server) OnSessionEnd(meetingID string) {
	if s.Relay != nil {
		s.Relay.Clear(meetingID)
	}
	if s.Turns != nil {
		if m, ok := s.Turns.Get(meetingID); ok {
			m.SetAutoRelisten(false)
			m.StopListening()
		}
		s.Turns.Remove(meetingID)
	}
	if s.Catalog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Catalog.SetStatus(ctx, meetingID, meeting.StatusProcessing); err != nil {
			s.logger.Warn("mark meeting processing failed", "meeting_id", meetingID, "err", err)
		}
	}
	s.observeSessions("ended")
	s.logger.Info("voice session ended", "meeting_id", meetingID)
}

func (s *Server) observeSessions(event string) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.SessionEvent(event)
	s.Metrics.ActiveSessions.Set(float64(s.Sessions.ActiveCount()))
}
