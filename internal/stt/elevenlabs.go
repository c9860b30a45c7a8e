package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

type ElevenLabsConfig struct {
	APIKey     string
	BaseURL    string
	ModelID    string
	Language   string
	HTTPClient *http.Client
}

// ElevenLabsRecognizer calls the batch speech-to-text REST endpoint.
type ElevenLabsRecognizer struct {
	cfg ElevenLabsConfig
}

func NewElevenLabsRecognizer(cfg ElevenLabsConfig) *ElevenLabsRecognizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "scribe_v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabsRecognizer{cfg: cfg}
}

func (r *ElevenLabsRecognizer) Name() string { return "elevenlabs_stt" }

func (r *ElevenLabsRecognizer) Recognize(ctx context.Context, wav []byte, _ int) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model_id", r.cfg.ModelID); err != nil {
		return "", err
	}
	if lang := languageCode(r.cfg.Language); lang != "" {
		if err := mw.WriteField("language_code", lang); err != nil {
			return "", err
		}
	}
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := strings.TrimRight(r.cfg.BaseURL, "/") + "/v1/speech-to-text"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", r.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("stt status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode stt response: %w", err)
	}
	return parsed.Text, nil
}

// languageCode turns "en-US" into the ISO-639 form the endpoint expects.
func languageCode(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
