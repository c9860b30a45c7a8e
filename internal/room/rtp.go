package room

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/randutil"
	"github.com/pion/rtp"

	"github.com/ent0n29/meetbridge/internal/audio"
)

const rtpPayloadSize = 960

// ErrCompressedAudio is returned for MP3/Ogg/FLAC input. The RTP track
// carries linear PCM only; ask the synthesizer for a pcm_<rate> format.
var ErrCompressedAudio = errors.New("rtp track needs PCM16, got compressed audio")

type RTPConfig struct {
	Addr        string
	PayloadType uint8
	// SampleRate is the track clock and the PCM rate every publish must match.
	SampleRate int
}

type stream struct {
	mu        sync.Mutex
	ssrc      uint32
	seq       uint16
	timestamp uint32
}

// RTPPublisher writes audio as an RTP stream per meeting to a UDP media
// endpoint (an SFU ingest or room gateway). Packets leave at the rate they
// play back.
type RTPPublisher struct {
	cfg    RTPConfig
	rng    randutil.MathRandomGenerator
	logger *log.Logger
	conn   net.Conn
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

func NewRTPPublisher(cfg RTPConfig, logger *log.Logger) (*RTPPublisher, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	conn, err := net.Dial("udp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial rtp target: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RTPPublisher{
		cfg:     cfg,
		rng:     randutil.NewMathRandomGenerator(),
		logger:  logger.WithPrefix("room-rtp"),
		conn:    conn,
		sleep:   sleepContext,
		streams: make(map[string]*stream),
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// stream returns the meeting's stream state, or nil once the publisher is closed.
func (p *RTPPublisher) stream(meetingID string) *stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	s, ok := p.streams[meetingID]
	if !ok {
		s = &stream{
			ssrc:      p.rng.Uint32(),
			seq:       uint16(p.rng.Uint32()),
			timestamp: p.rng.Uint32(),
		}
		p.streams[meetingID] = s
	}
	return s
}

// pcm turns a synthesizer result into mono PCM16 at the track rate.
func (p *RTPPublisher) pcm(data []byte) ([]byte, error) {
	if audio.IsWAV(data) {
		pcm, rate, err := audio.DecodePCM16(data)
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		if rate != p.cfg.SampleRate {
			return nil, fmt.Errorf("wav is %d Hz, rtp track is %d Hz", rate, p.cfg.SampleRate)
		}
		return pcm, nil
	}
	if audio.IsCompressed(data) {
		return nil, ErrCompressedAudio
	}
	return data[:len(data)&^1], nil
}

// Publish packetizes the audio and paces the packets by their duration. One
// meeting's publishes are serialized; meetings do not wait on each other.
func (p *RTPPublisher) Publish(ctx context.Context, meetingID string, data []byte) (Result, error) {
	res := Result{Backend: "rtp"}
	pcm, err := p.pcm(data)
	if err != nil {
		return res, err
	}
	if len(pcm) == 0 {
		return res, nil
	}
	s := p.stream(meetingID)
	if s == nil {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for off := 0; off < len(pcm); off += rtpPayloadSize {
		end := min(off+rtpPayloadSize, len(pcm))
		samples := (end - off) / 2
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         off == 0,
				PayloadType:    p.cfg.PayloadType,
				SequenceNumber: s.seq,
				Timestamp:      s.timestamp,
				SSRC:           s.ssrc,
			},
			Payload: pcm[off:end],
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return res, fmt.Errorf("marshal rtp packet: %w", err)
		}
		if _, err := p.conn.Write(raw); err != nil {
			p.logger.Warn("rtp write failed, dropping remainder", "meeting_id", meetingID, "err", err)
			return res, nil
		}
		s.seq++
		s.timestamp += uint32(samples)
		res.Delivered = true
		res.Listeners = 1
		if end == len(pcm) {
			break
		}
		if err := p.sleep(ctx, p.packetDuration(samples)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (p *RTPPublisher) packetDuration(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(p.cfg.SampleRate)
}

// Forget drops the stream state for a meeting so the next publish starts a
// fresh SSRC.
func (p *RTPPublisher) Forget(meetingID string) {
	p.mu.Lock()
	delete(p.streams, meetingID)
	p.mu.Unlock()
}

func (p *RTPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}
