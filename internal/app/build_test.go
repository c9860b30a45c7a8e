package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/ent0n29/meetbridge/internal/config"
	"github.com/ent0n29/meetbridge/internal/logging"
	"github.com/ent0n29/meetbridge/internal/turn"
)

func offlineConfig(rtpAddr string, rate int) config.Config {
	return config.Config{
		MetricsNamespace:         "meetbridge_test",
		SessionInactivityTimeout: time.Minute,
		SessionJanitorInterval:   time.Minute,
		RelayBufferSize:          10,
		TurnTimeout:              10 * time.Second,
		STTProvider:              "mock",
		STTMinAudioBytes:         1000,
		STTDefaultSampleRate:     16000,
		STTSilenceGap:            800 * time.Millisecond,
		STTSilenceRMS:            300,
		LLMProvider:              "mock",
		TTSProvider:              "mock",
		RoomBackend:              "rtp",
		RoomRTPAddr:              rtpAddr,
		RoomRTPPayloadType:       96,
		RoomRTPSampleRate:        rate,
	}
}

func TestBuildRTPTurnUsesTrackRate(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer pc.Close()

	res, err := Build(context.Background(), offlineConfig(pc.LocalAddr().String(), 24000), logging.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer res.Cleanup()

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	created, err := http.Post(ts.URL+"/v1/meetings/app-1/session", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	created.Body.Close()
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("create session = %d", created.StatusCode)
	}

	reply, err := http.Post(ts.URL+"/v1/meetings/app-1/utterance", "application/json", strings.NewReader(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("utterance: %v", err)
	}
	defer reply.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(reply.Body).Decode(&body); err != nil {
		t.Fatalf("decode utterance: %v", err)
	}
	if reply.StatusCode != http.StatusOK || body["reason"] != turn.ReasonCompleted {
		t.Fatalf("utterance = %d %v, want completed", reply.StatusCode, body)
	}

	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read rtp packet: %v", err)
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("unmarshal rtp: %v", err)
	}
	if pkt.PayloadType != 96 || len(pkt.Payload) == 0 {
		t.Fatalf("packet pt=%d payload=%d", pkt.PayloadType, len(pkt.Payload))
	}
}

func TestBuildReportsSpeechFormat(t *testing.T) {
	cfg := offlineConfig("", 0)
	cfg.RoomBackend = "relay"
	cfg.TTSOutputFormat = "pcm_22050"

	res, err := Build(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer res.Cleanup()
	if res.Config.SpeechFormat() != "pcm_22050" {
		t.Fatalf("speech format = %q", res.Config.SpeechFormat())
	}
	if res.Providers.TTS != "mock" || res.Providers.LLM != "mock" {
		t.Fatalf("providers = %+v", res.Providers)
	}
}
