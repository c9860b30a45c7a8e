package stt

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// GoogleRecognizer uses Cloud Speech synchronous recognition.
type GoogleRecognizer struct {
	client   *speech.Client
	language string
}

func NewGoogleRecognizer(ctx context.Context, language string, opts ...option.ClientOption) (*GoogleRecognizer, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(language) == "" {
		language = "en-US"
	}
	return &GoogleRecognizer{client: c, language: language}, nil
}

func (g *GoogleRecognizer) Name() string { return "google_stt" }

func (g *GoogleRecognizer) Close() error { return g.client.Close() }

func (g *GoogleRecognizer) Recognize(ctx context.Context, wav []byte, sampleRate int) (string, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(sampleRate),
			LanguageCode:               g.language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: wav},
		},
	})
	if err != nil {
		return "", err
	}

	var parts []string
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}
