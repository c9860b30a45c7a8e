package tts

import (
	"context"

	"github.com/ent0n29/meetbridge/internal/audio"
)

// Mock returns a short silent WAV so the rest of the pipeline can run offline.
// A pcm_<rate> format sets the WAV's rate.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return "mock_tts" }

func (m *Mock) Synthesize(ctx context.Context, _ string, text string, format string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := audio.DefaultSampleRate
	if r, ok := audio.PCMFormatRate(format); ok {
		rate = r
	}
	// 20ms of silence per character, capped at two seconds.
	n := len(text) * 640
	if n > 2*audio.DefaultSampleRate*2 {
		n = 2 * audio.DefaultSampleRate * 2
	}
	return audio.WrapPCM16(make([]byte, n), rate), nil
}
