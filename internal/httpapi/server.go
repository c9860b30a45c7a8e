package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/config"
	"github.com/ent0n29/meetbridge/internal/llm"
	"github.com/ent0n29/meetbridge/internal/logging"
	"github.com/ent0n29/meetbridge/internal/meeting"
	"github.com/ent0n29/meetbridge/internal/observability"
	"github.com/ent0n29/meetbridge/internal/realtime"
	"github.com/ent0n29/meetbridge/internal/relay"
	"github.com/ent0n29/meetbridge/internal/session"
	"github.com/ent0n29/meetbridge/internal/stt"
	"github.com/ent0n29/meetbridge/internal/transcript"
	"github.com/ent0n29/meetbridge/internal/tts"
	"github.com/ent0n29/meetbridge/internal/turn"
)

// Speech is the TTS surface the HTTP layer needs.
type Speech interface {
	SynthesizeFormat(ctx context.Context, text, voiceHint, format string) (tts.Result, error)
	Candidates(hint string) []string
}

type Deps struct {
	Config      config.Config
	Sessions    *session.Registry
	Relay       *relay.Relay
	Turns       *turn.Manager
	Dialer      realtime.Dialer
	Transcriber stt.Transcriber
	Generator   llm.Generator
	Speech      Speech
	Transcripts transcript.Store
	Catalog     meeting.Catalog
	Metrics     *observability.Metrics
	Logger      *log.Logger
}

type Server struct {
	Deps
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	cfg := deps.Config
	return &Server{
		Deps:   deps,
		logger: deps.Logger.WithPrefix("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser sockets unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Route("/v1/meetings/{id}", func(r chi.Router) {
		r.Post("/session", s.handleCreateSession)
		r.Get("/session", s.handleGetSession)
		r.Patch("/session", s.handleUpdateSession)
		r.Delete("/session", s.handleEndSession)
		r.Post("/audio", s.handleIngestAudio)
		r.Get("/audio/stream", s.handleAudioStream)
		r.Get("/transcript", s.handleListTranscript)
		r.Post("/transcript", s.handleAppendTranscript)
		r.Post("/listen", s.handleListen)
		r.Post("/utterance", s.handleUtterance)
		r.Get("/live", s.handleLive)
	})

	r.Post("/v1/stt", s.handleSTT)
	r.Post("/v1/tts", s.handleTTS)
	r.Get("/v1/tts/voices", s.handleListVoices)
	r.Post("/v1/ai/respond", s.handleRespond)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.Sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"room_backend": s.Config.RoomBackend,
		"stt_provider": s.Config.STTProvider,
		"llm_provider": s.Config.LLMProvider,
		"tts_provider": s.Config.TTSProvider,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.Metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.Metrics.Handler().ServeHTTP(w, r)
}

func meetingID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}

type errorResponse struct {
	Error string   `json:"error"`
	Code  string   `json:"code"`
	Tried []string `json:"tried,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondAppError maps an apperr to status and body. Provider detail is
// reported as a generic internal error.
func respondAppError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeProvider {
		code = apperr.CodeInternal
	}
	respondJSON(w, apperr.HTTPStatus(err), errorResponse{
		Error: apperr.PublicMessage(err),
		Code:  string(code),
		Tried: apperr.TriedOf(err),
	})
}
