// Package audio holds the small amount of container handling the voice
// pipeline needs: wrapping raw PCM for recognizers and sniffing formats.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultSampleRate = 16000
	wavHeaderSize     = 44
)

var ErrNotWAV = errors.New("not a RIFF/WAVE buffer")

// WrapPCM16 wraps mono PCM16LE samples in a minimal WAV header. Buffers that
// already carry a RIFF/WAVE header are returned untouched.
func WrapPCM16(pcm []byte, sampleRate int) []byte {
	if IsWAV(pcm) {
		return pcm
	}
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	_ = writeWAVPCM16(&buf, pcm, sampleRate)
	return buf.Bytes()
}

// IsWAV reports whether b starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

type wavFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ContentType guesses a MIME type from magic bytes; unknown data is treated as MPEG audio,
// which is what the synthesizers return by default.
func ContentType(b []byte) string {
	switch {
	case IsWAV(b):
		return "audio/wav"
	case len(b) >= 4 && string(b[0:4]) == "OggS":
		return "audio/ogg"
	case len(b) >= 4 && string(b[0:4]) == "fLaC":
		return "audio/flac"
	default:
		return "audio/mpeg"
	}
}

// IsCompressed reports containers and frame streams that cannot be sent as
// PCM without decoding: ID3-tagged or bare MPEG audio, Ogg and FLAC.
func IsCompressed(b []byte) bool {
	switch {
	case len(b) >= 3 && string(b[0:3]) == "ID3":
		return true
	case len(b) >= 4 && (string(b[0:4]) == "OggS" || string(b[0:4]) == "fLaC"):
		return true
	}
	return isMPEGFrame(b)
}

// isMPEGFrame checks for a valid MPEG audio frame header, so PCM that happens
// to start with 0xFFE0 bits (e.g. a run of -1 samples) is not mistaken for it.
func isMPEGFrame(b []byte) bool {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	bitrate := b[2] >> 4
	rate := (b[2] >> 2) & 0x03
	return version != 0x01 && layer != 0x00 && bitrate != 0x0F && bitrate != 0x00 && rate != 0x03
}

func writeWAVPCM16(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	dataSize := uint32(len(pcm))

	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 36+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], audioFormat)
	binary.LittleEndian.PutUint16(hdr[22:24], numChannels)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*numChannels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(hdr[32:34], numChannels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)

	if _, err := out.Write(hdr[:]); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// PCMPayload strips a canonical WAV header when present.
func PCMPayload(b []byte) []byte {
	if IsWAV(b) && len(b) >= wavHeaderSize {
		return b[wavHeaderSize:]
	}
	return b
}

// DecodePCM16 walks the RIFF chunks of a PCM16 WAV and returns mono samples
// and the sample rate. Multi-channel input is averaged down to one channel.
func DecodePCM16(b []byte) ([]byte, int, error) {
	if !IsWAV(b) {
		return nil, 0, ErrNotWAV
	}
	var (
		info    wavFormat
		format  uint16
		haveFmt bool
		data    []byte
	)
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(b) {
			return nil, 0, errors.New("wav chunk overruns buffer")
		}
		body := b[off : off+size]
		switch id {
		case "fmt ":
			if len(body) < 16 {
				return nil, 0, errors.New("wav fmt chunk too short")
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			data = body
		}
		off += size + size%2
	}
	switch {
	case !haveFmt:
		return nil, 0, errors.New("wav fmt chunk missing")
	case format != 1 || info.BitsPerSample != 16:
		return nil, 0, errors.New("wav is not 16-bit PCM")
	case info.Channels <= 0:
		return nil, 0, errors.New("wav has no channels")
	}
	if info.SampleRate <= 0 {
		info.SampleRate = DefaultSampleRate
	}
	if info.Channels == 1 {
		return data[:len(data)&^1], info.SampleRate, nil
	}

	frame := info.Channels * 2
	frames := len(data) / frame
	mono := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < info.Channels; ch++ {
			at := i*frame + ch*2
			sum += int(int16(binary.LittleEndian.Uint16(data[at : at+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:], uint16(int16(sum/info.Channels)))
	}
	return mono, info.SampleRate, nil
}

// RMS is the root-mean-square level of PCM16LE samples, on the int16 scale.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// PCMFormatRate extracts the rate from synthesizer formats such as
// "pcm_16000". A pcm format without a usable rate gets the default rate.
func PCMFormatRate(format string) (int, bool) {
	f := strings.ToLower(strings.TrimSpace(format))
	idx := strings.Index(f, "pcm_")
	if idx < 0 {
		return 0, false
	}
	rest := f[idx+len("pcm_"):]
	n := 0
	for n < len(rest) && rest[n] >= '0' && rest[n] <= '9' {
		n++
	}
	sr, err := strconv.Atoi(rest[:n])
	if err != nil || sr <= 0 {
		return DefaultSampleRate, true
	}
	return sr, true
}
