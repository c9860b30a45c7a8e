package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/audio"
)

const maxSTTBody = 25 << 20

type ttsRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

type respondRequest struct {
	Prompt string `json:"prompt"`
	System string `json:"system"`
}

// handleSTT never fails the request: short or unrecognizable audio yields an
// empty transcript.
func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSTTBody))
	if err != nil {
		s.logger.Warn("read stt body failed", "err", err)
		body = nil
	}
	rate, _ := strconv.Atoi(strings.TrimSpace(r.Header.Get("X-Sample-Rate")))
	res := s.Transcriber.Transcribe(r.Context(), body, rate)
	respondJSON(w, http.StatusOK, map[string]any{
		"transcript": res.Transcript,
		"skipped":    res.Skipped,
		"failed":     res.Failed,
	})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "invalid JSON body")
		return
	}
	format := strings.TrimSpace(req.Format)
	res, err := s.Speech.SynthesizeFormat(r.Context(), req.Text, req.Voice, format)
	if err != nil {
		respondAppError(w, err)
		return
	}

	out := res.Audio
	contentType := res.ContentType
	if rate, ok := audio.PCMFormatRate(format); ok {
		out = audio.WrapPCM16(out, rate)
		contentType = "audio/wav"
	}
	if contentType == "" {
		contentType = audio.ContentType(out)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Voice-Id", res.Voice)
	if format != "" {
		w.Header().Set("X-Audio-Format", format)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// handleListVoices reports the voice order a synthesis request would try.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	hint := strings.TrimSpace(r.URL.Query().Get("voice"))
	respondJSON(w, http.StatusOK, map[string]any{
		"default_voice": s.Config.ElevenLabsVoiceID,
		"candidates":    s.Speech.Candidates(hint),
	})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		respondError(w, http.StatusBadRequest, string(apperr.CodeInvalidArgument), "prompt is required")
		return
	}
	text, err := s.Generator.Generate(r.Context(), req.Prompt, req.System)
	if err != nil {
		s.logger.Warn("generate failed", "err", err)
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"text": text})
}
