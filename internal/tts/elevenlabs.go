package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haguro/elevenlabs-go"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/reliability"
)

const DefaultModelID = "eleven_turbo_v2_5"

type ElevenLabsConfig struct {
	APIKey  string
	ModelID string
	Timeout time.Duration
}

// ElevenLabs synthesizes speech through the ElevenLabs text-to-speech API.
type ElevenLabs struct {
	cfg ElevenLabsConfig
}

func NewElevenLabs(cfg ElevenLabsConfig) *ElevenLabs {
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabs{cfg: cfg}
}

func (e *ElevenLabs) Name() string { return "elevenlabs_tts" }

func (e *ElevenLabs) Synthesize(ctx context.Context, voiceID, text, format string) ([]byte, error) {
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return nil, apperr.E(apperr.CodeConfiguration, "tts.ElevenLabs", "ELEVENLABS_API_KEY is not set", nil)
	}
	client := elevenlabs.NewClient(ctx, e.cfg.APIKey, e.cfg.Timeout)
	req := elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
	}

	var queries []elevenlabs.QueryFunc
	if format = strings.TrimSpace(format); format != "" {
		queries = append(queries, elevenlabs.OutputFormat(format))
	}

	var buf bytes.Buffer
	if err := client.TextToSpeechStream(&buf, voiceID, req, queries...); err != nil {
		return nil, providerError(voiceID, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("voice %s: empty audio response", voiceID)
	}
	return buf.Bytes(), nil
}

// ProviderError is one voice's failed synthesis call. Status is the HTTP status
// when the SDK reported one, Detail the provider's status token and message.
type ProviderError struct {
	Voice  string
	Status int
	Detail string
	Err    error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("voice %s: %v", e.Voice, e.Err) }

func (e *ProviderError) Unwrap() error { return e.Err }

// PermissionDenied is decided from the status and provider detail only; the
// voice id and transport text never take part.
func (e *ProviderError) PermissionDenied() bool {
	return reliability.IsPermissionStatus(e.Status) || reliability.IsPermissionDetail(e.Detail)
}

func providerError(voiceID string, err error) *ProviderError {
	pe := &ProviderError{Voice: voiceID, Err: err}
	var apiErr *elevenlabs.APIError
	var valErr *elevenlabs.ValidationError
	switch {
	case errors.As(err, &apiErr):
		// The SDK returns APIError for both 400 and 401 without the code.
		pe.Detail = strings.TrimSpace(apiErr.Detail.Status + " " + apiErr.Detail.Message)
	case errors.As(err, &valErr):
		pe.Status = 422
	default:
		pe.Status = reliability.StatusFromText(err.Error())
	}
	return pe
}
