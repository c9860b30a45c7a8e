package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the meeting voice bridge.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string

	SessionInactivityTimeout time.Duration
	SessionJanitorInterval   time.Duration
	RelayBufferSize          int
	TurnTimeout              time.Duration

	STTProvider          string
	STTMinAudioBytes     int
	STTDefaultSampleRate int
	STTLanguage          string
	STTSilenceGap        time.Duration
	STTSilenceRMS        int
	GoogleCredentials    string

	ElevenLabsAPIKey             string
	ElevenLabsBaseURL            string
	ElevenLabsWSBaseURL          string
	ElevenLabsSTTModel           string
	ElevenLabsRealtimeSTTModel   string
	ElevenLabsTTSModel           string
	ElevenLabsVoiceID            string
	ElevenLabsRealtimeSTTEnabled bool

	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string

	TTSProvider string

	// TTSOutputFormat is the ElevenLabs output_format for turn replies; empty
	// keeps the provider default (MP3).
	TTSOutputFormat string

	TranscriptRedactPII bool

	DatabaseURL     string
	RedisURL        string
	MeetingCacheTTL time.Duration

	RoomBackend        string
	RoomRTPAddr        string
	RoomRTPPayloadType int
	RoomRTPSampleRate  int
}

// Load reads an optional .env file, then environment variables, and applies defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "meetbridge"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "text"),

		STTProvider:          envOrDefault("STT_PROVIDER", "auto"),
		STTLanguage:          envOrDefault("STT_LANGUAGE", "en-US"),
		STTMinAudioBytes:     1000,
		STTDefaultSampleRate: 16000,
		STTSilenceGap:        800 * time.Millisecond,
		STTSilenceRMS:        300,
		GoogleCredentials:    trimmedEnv("GOOGLE_APPLICATION_CREDENTIALS"),

		ElevenLabsAPIKey:           trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:          envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL:        envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsSTTModel:         envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		ElevenLabsRealtimeSTTModel: envOrDefault("ELEVENLABS_REALTIME_STT_MODEL_ID", "scribe_v2_realtime"),
		ElevenLabsTTSModel:         envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_turbo_v2_5"),
		ElevenLabsVoiceID:          trimmedEnv("ELEVENLABS_VOICE_ID"),

		LLMProvider:  envOrDefault("LLM_PROVIDER", "gemini"),
		TTSProvider:  envOrDefault("TTS_PROVIDER", "elevenlabs"),
		GeminiAPIKey: trimmedEnv("GEMINI_API_KEY"),
		GeminiModel:  envOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),

		TTSOutputFormat: trimmedEnv("TTS_OUTPUT_FORMAT"),

		DatabaseURL: trimmedEnv("DATABASE_URL"),
		RedisURL:    trimmedEnv("REDIS_URL"),

		RoomBackend:        envOrDefault("ROOM_BACKEND", "relay"),
		RoomRTPAddr:        trimmedEnv("ROOM_RTP_ADDR"),
		RoomRTPPayloadType: 96,
		RoomRTPSampleRate:  16000,

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		SessionJanitorInterval:   30 * time.Second,
		RelayBufferSize:          100,
		TurnTimeout:              45 * time.Second,
		MeetingCacheTTL:          5 * time.Minute,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = durationFromEnv("SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionJanitorInterval, err = durationFromEnv("SESSION_JANITOR_INTERVAL", cfg.SessionJanitorInterval); err != nil {
		return Config{}, err
	}
	if cfg.TurnTimeout, err = durationFromEnv("TURN_TIMEOUT", cfg.TurnTimeout); err != nil {
		return Config{}, err
	}
	if cfg.MeetingCacheTTL, err = durationFromEnv("MEETING_CACHE_TTL", cfg.MeetingCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.RelayBufferSize, err = intFromEnv("RELAY_BUFFER_SIZE", cfg.RelayBufferSize); err != nil {
		return Config{}, err
	}
	if cfg.STTMinAudioBytes, err = intFromEnv("STT_MIN_AUDIO_BYTES", cfg.STTMinAudioBytes); err != nil {
		return Config{}, err
	}
	if cfg.STTDefaultSampleRate, err = intFromEnv("STT_DEFAULT_SAMPLE_RATE", cfg.STTDefaultSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.STTSilenceGap, err = durationFromEnv("STT_SILENCE_GAP", cfg.STTSilenceGap); err != nil {
		return Config{}, err
	}
	if cfg.STTSilenceRMS, err = intFromEnv("STT_SILENCE_RMS", cfg.STTSilenceRMS); err != nil {
		return Config{}, err
	}
	if cfg.RoomRTPPayloadType, err = intFromEnv("ROOM_RTP_PAYLOAD_TYPE", cfg.RoomRTPPayloadType); err != nil {
		return Config{}, err
	}
	if cfg.RoomRTPSampleRate, err = intFromEnv("ROOM_RTP_SAMPLE_RATE", cfg.RoomRTPSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.TranscriptRedactPII, err = boolFromEnv("TRANSCRIPT_REDACT_PII", cfg.TranscriptRedactPII); err != nil {
		return Config{}, err
	}
	// Realtime STT is opt-out once an ElevenLabs key is present.
	cfg.ElevenLabsRealtimeSTTEnabled = cfg.ElevenLabsAPIKey != ""
	if cfg.ElevenLabsRealtimeSTTEnabled, err = boolFromEnv("ELEVENLABS_REALTIME_STT", cfg.ElevenLabsRealtimeSTTEnabled); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 30*time.Second {
		return fmt.Errorf("SESSION_INACTIVITY_TIMEOUT must be at least 30s")
	}
	if c.SessionJanitorInterval <= 0 {
		return fmt.Errorf("SESSION_JANITOR_INTERVAL must be positive")
	}
	if c.RelayBufferSize <= 0 {
		return fmt.Errorf("RELAY_BUFFER_SIZE must be positive")
	}
	if c.STTMinAudioBytes < 0 {
		return fmt.Errorf("STT_MIN_AUDIO_BYTES must be >= 0")
	}
	if c.STTDefaultSampleRate <= 0 {
		return fmt.Errorf("STT_DEFAULT_SAMPLE_RATE must be positive")
	}
	if c.STTSilenceGap <= 0 {
		return fmt.Errorf("STT_SILENCE_GAP must be positive")
	}
	if c.STTSilenceRMS < 0 || c.STTSilenceRMS > 32767 {
		return fmt.Errorf("STT_SILENCE_RMS must be within [0,32767]")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be positive")
	}
	if c.RoomRTPPayloadType < 0 || c.RoomRTPPayloadType > 127 {
		return fmt.Errorf("ROOM_RTP_PAYLOAD_TYPE must be within [0,127]")
	}
	switch strings.ToLower(strings.TrimSpace(c.RoomBackend)) {
	case "relay":
	case "rtp":
		if c.RoomRTPAddr == "" {
			return fmt.Errorf("ROOM_BACKEND=rtp requires ROOM_RTP_ADDR")
		}
		switch c.RoomRTPSampleRate {
		case 8000, 16000, 22050, 24000, 44100, 48000:
		default:
			return fmt.Errorf("ROOM_RTP_SAMPLE_RATE must be one of 8000|16000|22050|24000|44100|48000")
		}
		if c.TTSOutputFormat != "" && c.TTSOutputFormat != c.SpeechFormat() {
			return fmt.Errorf("ROOM_BACKEND=rtp needs TTS_OUTPUT_FORMAT=%s or unset", c.SpeechFormat())
		}
	default:
		return fmt.Errorf("invalid ROOM_BACKEND: %q (expected relay|rtp)", c.RoomBackend)
	}
	switch strings.ToLower(strings.TrimSpace(c.STTProvider)) {
	case "auto", "elevenlabs", "google", "mock":
	default:
		return fmt.Errorf("invalid STT_PROVIDER: %q (expected auto|elevenlabs|google|mock)", c.STTProvider)
	}
	switch strings.ToLower(strings.TrimSpace(c.LLMProvider)) {
	case "gemini", "mock":
	default:
		return fmt.Errorf("invalid LLM_PROVIDER: %q (expected gemini|mock)", c.LLMProvider)
	}
	switch strings.ToLower(strings.TrimSpace(c.TTSProvider)) {
	case "elevenlabs", "mock":
	default:
		return fmt.Errorf("invalid TTS_PROVIDER: %q (expected elevenlabs|mock)", c.TTSProvider)
	}
	return nil
}

// SpeechFormat is the synthesizer output format for turn replies. The RTP
// backend carries linear PCM, so it always asks for pcm at the track rate.
func (c Config) SpeechFormat() string {
	if strings.EqualFold(strings.TrimSpace(c.RoomBackend), "rtp") {
		return fmt.Sprintf("pcm_%d", c.RoomRTPSampleRate)
	}
	return c.TTSOutputFormat
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
