package llm

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/observability"
)

const DefaultGeminiModel = "gemini-1.5-flash"

type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

type completeFunc func(ctx context.Context, system, prompt string) (string, error)

// Gemini generates replies with the Gemini API. It has no retry: a failed call
// fails the turn.
type Gemini struct {
	client   *genai.Client
	complete completeFunc
	metrics  *observability.Metrics
	logger   *log.Logger
}

// NewGemini builds the adapter. A missing API key is not an error here; every
// Generate call reports it as a configuration error instead.
func NewGemini(ctx context.Context, cfg GeminiConfig, metrics *observability.Metrics, logger *log.Logger) (*Gemini, error) {
	if logger == nil {
		logger = log.Default()
	}
	g := &Gemini{metrics: metrics, logger: logger.WithPrefix("llm")}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return g, nil
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = 256
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, apperr.E(apperr.CodeConfiguration, "llm.NewGemini", "create gemini client", err)
	}
	g.client = client
	g.complete = func(ctx context.Context, system, prompt string) (string, error) {
		model := client.GenerativeModel(cfg.Model)
		model.GenerationConfig.SetTemperature(cfg.Temperature)
		model.GenerationConfig.SetMaxOutputTokens(cfg.MaxOutputTokens)
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		return responseText(resp), nil
	}
	return g, nil
}

func (g *Gemini) Generate(ctx context.Context, prompt, systemInstructions string) (string, error) {
	const op = "llm.Generate"
	if strings.TrimSpace(prompt) == "" {
		return "", apperr.E(apperr.CodeInvalidArgument, op, "prompt is required", nil)
	}
	if g.complete == nil {
		return "", apperr.E(apperr.CodeConfiguration, op, "no text generation credential configured", nil)
	}

	raw, err := g.complete(ctx, ComposeInstructions(systemInstructions), prompt)
	if err != nil {
		g.metrics.ObserveProviderError("gemini", "generate_failed")
		g.logger.Warn("generation failed", "err", err)
		return "", apperr.E(apperr.CodeProvider, op, "text generation failed", err)
	}
	return Shape(raw), nil
}

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		// First candidate only.
		break
	}
	return text.String()
}
