package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"google.golang.org/api/option"

	"github.com/ent0n29/meetbridge/internal/config"
	"github.com/ent0n29/meetbridge/internal/llm"
	"github.com/ent0n29/meetbridge/internal/observability"
	"github.com/ent0n29/meetbridge/internal/stt"
	"github.com/ent0n29/meetbridge/internal/tts"
)

// ProviderInfo names the backends a build resolved to.
type ProviderInfo struct {
	STT      string
	LLM      string
	TTS      string
	Realtime bool
}

type providerSetup struct {
	recognizer stt.Recognizer
	generator  llm.Generator
	voice      tts.Voice
	info       ProviderInfo
	cleanup    []func() error
}

func resolveProviders(ctx context.Context, cfg config.Config, metrics *observability.Metrics, logger *log.Logger) (providerSetup, error) {
	var setup providerSetup

	rec, name, closer, err := resolveRecognizer(ctx, cfg, logger)
	if err != nil {
		return providerSetup{}, err
	}
	setup.recognizer = rec
	setup.info.STT = name
	if closer != nil {
		setup.cleanup = append(setup.cleanup, closer)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "mock":
		setup.generator = llm.NewMock()
		setup.info.LLM = "mock"
	default:
		g, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, metrics, logger)
		if err != nil {
			setup.runCleanup()
			return providerSetup{}, err
		}
		if cfg.GeminiAPIKey == "" {
			logger.Warn("GEMINI_API_KEY is not set; text generation requests will fail")
		}
		setup.generator = g
		setup.info.LLM = "gemini"
		setup.cleanup = append(setup.cleanup, g.Close)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.TTSProvider)) {
	case "mock":
		setup.voice = tts.NewMock()
		setup.info.TTS = "mock"
	default:
		if cfg.ElevenLabsAPIKey == "" {
			logger.Warn("ELEVENLABS_API_KEY is not set; speech synthesis requests will fail")
		}
		setup.voice = tts.NewElevenLabs(tts.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			ModelID: cfg.ElevenLabsTTSModel,
		})
		setup.info.TTS = "elevenlabs"
	}

	setup.info.Realtime = cfg.ElevenLabsRealtimeSTTEnabled
	return setup, nil
}

// resolveRecognizer picks the batch recognizer. "auto" prefers ElevenLabs,
// then Google when credentials are configured, then the mock.
func resolveRecognizer(ctx context.Context, cfg config.Config, logger *log.Logger) (stt.Recognizer, string, func() error, error) {
	elevenLabs := func() stt.Recognizer {
		return stt.NewElevenLabsRecognizer(stt.ElevenLabsConfig{
			APIKey:   cfg.ElevenLabsAPIKey,
			BaseURL:  cfg.ElevenLabsBaseURL,
			ModelID:  cfg.ElevenLabsSTTModel,
			Language: cfg.STTLanguage,
		})
	}
	google := func() (*stt.GoogleRecognizer, error) {
		var opts []option.ClientOption
		if cfg.GoogleCredentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentials))
		}
		return stt.NewGoogleRecognizer(ctx, cfg.STTLanguage, opts...)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.STTProvider)) {
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			return nil, "", nil, fmt.Errorf("STT_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		return elevenLabs(), "elevenlabs", nil, nil
	case "google":
		g, err := google()
		if err != nil {
			return nil, "", nil, fmt.Errorf("google speech client init failed: %w", err)
		}
		return g, "google", g.Close, nil
	case "mock":
		return stt.NewMockRecognizer(), "mock", nil, nil
	default:
		if cfg.ElevenLabsAPIKey != "" {
			return elevenLabs(), "elevenlabs", nil, nil
		}
		if cfg.GoogleCredentials != "" {
			g, err := google()
			if err == nil {
				return g, "google", g.Close, nil
			}
			logger.Warn("google speech unavailable, falling back to mock", "err", err)
		}
		return stt.NewMockRecognizer(), "mock", nil, nil
	}
}

func (p providerSetup) runCleanup() []error {
	var errs []error
	for i := len(p.cleanup) - 1; i >= 0; i-- {
		if err := p.cleanup[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
