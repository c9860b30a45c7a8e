package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/ent0n29/meetbridge/internal/audio"
	"github.com/ent0n29/meetbridge/internal/session"
)

// FlushFunc receives one utterance worth of buffered PCM.
type FlushFunc func(ctx context.Context, pcm []byte, sampleRate int)

type BufferedConfig struct {
	// SilenceGap is how long ingress must pause before the buffer is flushed.
	SilenceGap time.Duration
	// MaxBytes forces a flush when reached.
	MaxBytes int
	// SilenceLevel is the RMS below which a chunk counts as silence. Quiet
	// chunks never start an utterance and do not postpone the flush. Zero
	// treats every chunk as speech.
	SilenceLevel float64
}

// BufferedConn collects ingress audio and hands it to a batch recognizer
// after a pause. Used when no streaming recognizer is configured.
type BufferedConn struct {
	cfg   BufferedConfig
	flush FlushFunc

	mu         sync.Mutex
	buf        []byte
	sampleRate int
	timer      *time.Timer
	closed     bool
}

func NewBufferedConn(cfg BufferedConfig, flush FlushFunc) *BufferedConn {
	if cfg.SilenceGap <= 0 {
		cfg.SilenceGap = 800 * time.Millisecond
	}
	if cfg.MaxBytes <= 0 {
		// 15s of 16kHz PCM16.
		cfg.MaxBytes = 15 * audio.DefaultSampleRate * 2
	}
	return &BufferedConn{cfg: cfg, flush: flush}
}

func (c *BufferedConn) SendAudio(_ context.Context, pcm []byte, sampleRate int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	if len(c.buf) > 0 && sampleRate != c.sampleRate {
		c.flushLocked()
	}
	payload := audio.PCMPayload(pcm)
	quiet := c.cfg.SilenceLevel > 0 && audio.RMS(payload) < c.cfg.SilenceLevel
	if quiet && len(c.buf) == 0 {
		return nil
	}
	c.sampleRate = sampleRate
	c.buf = append(c.buf, payload...)

	if len(c.buf) >= c.cfg.MaxBytes {
		c.flushLocked()
		return nil
	}
	switch {
	case c.timer == nil:
		c.timer = time.AfterFunc(c.cfg.SilenceGap, c.onSilence)
	case !quiet:
		c.timer.Reset(c.cfg.SilenceGap)
	}
	return nil
}

func (c *BufferedConn) onSilence() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.flushLocked()
}

// Flush hands any buffered audio to the flush func now and reports whether
// there was any.
func (c *BufferedConn) Flush() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	return c.flushLocked()
}

// flushLocked detaches the buffer and runs the flush func on its own
// goroutine so ingress never waits on recognition.
func (c *BufferedConn) flushLocked() bool {
	if c.timer != nil {
		c.timer.Stop()
	}
	if len(c.buf) == 0 || c.flush == nil {
		return false
	}
	pcm, rate := c.buf, c.sampleRate
	c.buf = nil
	go c.flush(context.Background(), pcm, rate)
	return true
}

// Buffered reports how many bytes are waiting for the next flush.
func (c *BufferedConn) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

func (c *BufferedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.buf = nil
	return nil
}

// BufferedDialer gives every meeting its own BufferedConn. FlushFor binds the
// flushed audio to that meeting.
type BufferedDialer struct {
	Config   BufferedConfig
	FlushFor func(meetingID string) FlushFunc
}

func (d *BufferedDialer) Dial(_ context.Context, meetingID string) (session.Conn, error) {
	var flush FlushFunc
	if d.FlushFor != nil {
		flush = d.FlushFor(meetingID)
	}
	return NewBufferedConn(d.Config, flush), nil
}
