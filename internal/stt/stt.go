package stt

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/meetbridge/internal/audio"
	"github.com/ent0n29/meetbridge/internal/observability"
)

const DefaultMinAudioBytes = 1000

// Result is what callers of the batch adapter see. Failures surface as an
// empty transcript, never as an error.
type Result struct {
	Transcript string `json:"transcript"`
	// Skipped is set when the audio was below the silence threshold.
	Skipped bool `json:"-"`
	// Failed is set when the recognizer errored and the error was swallowed.
	Failed bool `json:"-"`
}

// Transcriber turns a raw audio buffer into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) Result
}

// Recognizer is an external speech-recognition backend. It receives a WAV
// container and may return errors; Batch decides what to do with them.
type Recognizer interface {
	Recognize(ctx context.Context, wav []byte, sampleRate int) (string, error)
	Name() string
}

type BatchConfig struct {
	MinAudioBytes     int
	DefaultSampleRate int
	Timeout           time.Duration
}

// Batch is the buffer-in, transcript-out adapter.
type Batch struct {
	recognizer Recognizer
	cfg        BatchConfig
	metrics    *observability.Metrics
	logger     *log.Logger
}

func NewBatch(recognizer Recognizer, cfg BatchConfig, metrics *observability.Metrics, logger *log.Logger) *Batch {
	if cfg.MinAudioBytes < 0 {
		cfg.MinAudioBytes = DefaultMinAudioBytes
	}
	if cfg.DefaultSampleRate <= 0 {
		cfg.DefaultSampleRate = audio.DefaultSampleRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Batch{
		recognizer: recognizer,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.WithPrefix("stt"),
	}
}

func (b *Batch) Transcribe(ctx context.Context, pcm []byte, sampleRate int) Result {
	if len(pcm) < b.cfg.MinAudioBytes {
		b.logger.Debug("audio below threshold, treating as silence", "bytes", len(pcm), "min", b.cfg.MinAudioBytes)
		return Result{Skipped: true}
	}
	if sampleRate <= 0 {
		sampleRate = b.cfg.DefaultSampleRate
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	text, err := b.recognizer.Recognize(ctx, audio.WrapPCM16(pcm, sampleRate), sampleRate)
	if err != nil {
		b.metrics.ObserveProviderError(b.recognizer.Name(), "recognize_failed")
		b.logger.Warn("recognition failed, returning empty transcript", "provider", b.recognizer.Name(), "err", err)
		return Result{Failed: true}
	}
	return Result{Transcript: strings.TrimSpace(text)}
}
