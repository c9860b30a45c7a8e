package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.RelayBufferSize != 100 {
		t.Fatalf("RelayBufferSize = %d, want 100", cfg.RelayBufferSize)
	}
	if cfg.STTSilenceGap != 800*time.Millisecond || cfg.STTSilenceRMS != 300 {
		t.Fatalf("silence gate = %s/%d", cfg.STTSilenceGap, cfg.STTSilenceRMS)
	}
	if cfg.STTMinAudioBytes != 1000 {
		t.Fatalf("STTMinAudioBytes = %d, want 1000", cfg.STTMinAudioBytes)
	}
	if cfg.RoomBackend != "relay" {
		t.Fatalf("RoomBackend = %q, want relay", cfg.RoomBackend)
	}
	if cfg.ElevenLabsRealtimeSTTEnabled {
		t.Fatalf("ElevenLabsRealtimeSTTEnabled = true without an API key")
	}
	if cfg.LLMProvider != "gemini" || cfg.TTSProvider != "elevenlabs" {
		t.Fatalf("providers = %q/%q, want gemini/elevenlabs", cfg.LLMProvider, cfg.TTSProvider)
	}
	if cfg.TurnTimeout != 45*time.Second {
		t.Fatalf("TurnTimeout = %v, want 45s", cfg.TurnTimeout)
	}
}

func TestLoadEnablesRealtimeWithKey(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ELEVENLABS_API_KEY", "  xi-key  ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ElevenLabsAPIKey != "xi-key" {
		t.Fatalf("ElevenLabsAPIKey = %q, want trimmed key", cfg.ElevenLabsAPIKey)
	}
	if !cfg.ElevenLabsRealtimeSTTEnabled {
		t.Fatalf("ElevenLabsRealtimeSTTEnabled = false, want true when key is set")
	}

	t.Setenv("ELEVENLABS_REALTIME_STT", "off")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ElevenLabsRealtimeSTTEnabled {
		t.Fatalf("ElevenLabsRealtimeSTTEnabled = true, want explicit opt-out honored")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"RELAY_BUFFER_SIZE", "0"},
		{"RELAY_BUFFER_SIZE", "ten"},
		{"SESSION_INACTIVITY_TIMEOUT", "5s"},
		{"APP_ALLOW_ANY_ORIGIN", "maybe"},
		{"ROOM_BACKEND", "carrier-pigeon"},
		{"ROOM_BACKEND", "rtp"},
		{"STT_PROVIDER", "whisper"},
		{"ROOM_RTP_PAYLOAD_TYPE", "200"},
		{"LLM_PROVIDER", "gpt"},
		{"TTS_PROVIDER", "espeak"},
		{"TRANSCRIPT_REDACT_PII", "sometimes"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want error for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoadRTPBackendWithAddr(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ROOM_BACKEND", "rtp")
	t.Setenv("ROOM_RTP_ADDR", "127.0.0.1:5004")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RoomRTPAddr != "127.0.0.1:5004" {
		t.Fatalf("RoomRTPAddr = %q", cfg.RoomRTPAddr)
	}
	if got := cfg.SpeechFormat(); got != "pcm_16000" {
		t.Fatalf("SpeechFormat() = %q, want pcm_16000", got)
	}
}

func TestLoadRTPBackendFormat(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("ROOM_BACKEND", "rtp")
	t.Setenv("ROOM_RTP_ADDR", "127.0.0.1:5004")
	t.Setenv("ROOM_RTP_SAMPLE_RATE", "24000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.SpeechFormat(); got != "pcm_24000" {
		t.Fatalf("SpeechFormat() = %q, want pcm_24000", got)
	}

	t.Setenv("TTS_OUTPUT_FORMAT", "mp3_44100_128")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted an MP3 format on the rtp backend")
	}
	t.Setenv("TTS_OUTPUT_FORMAT", "")
	t.Setenv("ROOM_RTP_SAMPLE_RATE", "11025")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted an unsupported rtp sample rate")
	}
}

func TestSpeechFormatOnRelay(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TTS_OUTPUT_FORMAT", "mp3_22050_32")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.SpeechFormat(); got != "mp3_22050_32" {
		t.Fatalf("SpeechFormat() = %q", got)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"SESSION_INACTIVITY_TIMEOUT",
		"SESSION_JANITOR_INTERVAL",
		"RELAY_BUFFER_SIZE",
		"TURN_TIMEOUT",
		"STT_PROVIDER",
		"STT_MIN_AUDIO_BYTES",
		"STT_DEFAULT_SAMPLE_RATE",
		"STT_LANGUAGE",
		"STT_SILENCE_GAP",
		"STT_SILENCE_RMS",
		"GOOGLE_APPLICATION_CREDENTIALS",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_BASE_URL",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_STT_MODEL_ID",
		"ELEVENLABS_REALTIME_STT_MODEL_ID",
		"ELEVENLABS_REALTIME_STT",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_VOICE_ID",
		"LLM_PROVIDER",
		"TTS_PROVIDER",
		"TRANSCRIPT_REDACT_PII",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"DATABASE_URL",
		"REDIS_URL",
		"MEETING_CACHE_TTL",
		"ROOM_BACKEND",
		"ROOM_RTP_ADDR",
		"ROOM_RTP_PAYLOAD_TYPE",
		"ROOM_RTP_SAMPLE_RATE",
		"TTS_OUTPUT_FORMAT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
