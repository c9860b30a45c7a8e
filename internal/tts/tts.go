package tts

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/audio"
	"github.com/ent0n29/meetbridge/internal/observability"
	"github.com/ent0n29/meetbridge/internal/reliability"
)

// Fallback voices tried after the hint and the configured default.
var FallbackVoices = []string{
	"21m00Tcm4TlvDq8ikWAM", // Rachel
	"EXAVITQu4vr4xnSDxMaL", // Bella
}

// Voice is a synthesis backend for a single voice id.
type Voice interface {
	Synthesize(ctx context.Context, voiceID, text, format string) ([]byte, error)
	Name() string
}

type Result struct {
	Audio       []byte
	Voice       string
	Tried       []string
	ContentType string
}

type Config struct {
	DefaultVoice  string
	DefaultFormat string
}

// Synthesizer walks the candidate voices in priority order. Only permission or
// plan rejections move on to the next voice; any other failure stops the walk.
type Synthesizer struct {
	backend Voice
	cfg     Config
	metrics *observability.Metrics
	logger  *log.Logger
}

func NewSynthesizer(backend Voice, cfg Config, metrics *observability.Metrics, logger *log.Logger) *Synthesizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Synthesizer{backend: backend, cfg: cfg, metrics: metrics, logger: logger.WithPrefix("tts")}
}

// Candidates returns the ordered, de-duplicated voice list for a hint.
func (s *Synthesizer) Candidates(hint string) []string {
	raw := append([]string{hint, s.cfg.DefaultVoice}, FallbackVoices...)
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceHint string) (Result, error) {
	return s.SynthesizeFormat(ctx, text, voiceHint, s.cfg.DefaultFormat)
}

func (s *Synthesizer) SynthesizeFormat(ctx context.Context, text, voiceHint, format string) (Result, error) {
	const op = "tts.Synthesize"
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, apperr.E(apperr.CodeInvalidArgument, op, "text is required", nil)
	}
	if s.backend == nil {
		return Result{}, apperr.E(apperr.CodeConfiguration, op, "no text-to-speech backend configured", nil)
	}

	candidates := s.Candidates(voiceHint)
	tried := make([]string, 0, len(candidates))
	for _, voiceID := range candidates {
		tried = append(tried, voiceID)
		data, err := s.backend.Synthesize(ctx, voiceID, text, format)
		if err == nil {
			return Result{
				Audio:       data,
				Voice:       voiceID,
				Tried:       tried,
				ContentType: audio.ContentType(data),
			}, nil
		}
		if apperr.IsCode(err, apperr.CodeConfiguration) {
			return Result{}, err
		}
		if !reliability.IsPermissionRejection(err) {
			s.metrics.ObserveProviderError(s.backend.Name(), string(apperr.CodeTTSFailed))
			s.logger.Warn("synthesis failed", "voice", voiceID, "err", err)
			return Result{}, &apperr.Error{Code: apperr.CodeTTSFailed, Op: op, Message: "speech synthesis failed", Err: err, Tried: tried}
		}
		s.logger.Info("voice rejected on permissions, trying next", "voice", voiceID, "err", err)
		if s.metrics != nil {
			s.metrics.TTSVoiceFallbacks.Inc()
		}
	}

	s.metrics.ObserveProviderError(s.backend.Name(), string(apperr.CodeTTSInsufficientPermits))
	return Result{}, &apperr.Error{
		Code:    apperr.CodeTTSInsufficientPermits,
		Op:      op,
		Message: "no voice is available on the current plan",
		Tried:   tried,
	}
}
