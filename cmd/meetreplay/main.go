// Command meetreplay drives synthetic turns through a running meetbridge and
// reports how long each reply took.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/meetbridge/internal/audio"
	"github.com/ent0n29/meetbridge/internal/protocol"
)

type options struct {
	baseURL     string
	meetingID   string
	voice       string
	turns       int
	chunkMS     int
	realtime    float64
	startDelay  time.Duration
	turnTimeout time.Duration
	texts       []string
	verbose     bool
}

type clip struct {
	Text       string
	PCM        []byte
	SampleRate int
}

type liveEvent struct {
	Type      string `json:"type"`
	State     string `json:"state,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Delivered bool   `json:"delivered,omitempty"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
	Text      string `json:"text,omitempty"`
}

var defaultUtterances = []string{
	"What did we decide about the launch date?",
	"Summarize the open action items.",
	"Who owns the migration work?",
	"Any risks we should flag for next week?",
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "meetreplay: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "meetreplay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var (
		opts          options
		textsRaw      string
		startDelayMS  int
		turnTimeoutMS int
	)
	fs := flag.NewFlagSet("meetreplay", flag.ContinueOnError)
	fs.StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "meetbridge base URL")
	fs.StringVar(&opts.meetingID, "meeting-id", "", "meeting id (default: replay-<unix>)")
	fs.StringVar(&opts.voice, "voice", "", "voice id used to synthesize the utterances")
	fs.IntVar(&opts.turns, "turns", 4, "number of turns to replay")
	fs.IntVar(&opts.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	fs.Float64Var(&opts.realtime, "realtime", 2.0, "chunk pacing multiplier (1.0=realtime)")
	fs.IntVar(&startDelayMS, "start-delay-ms", 500, "delay before the first turn")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 20000, "timeout waiting for turn_end")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|'")
	fs.BoolVar(&opts.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
	if opts.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if opts.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if opts.chunkMS < 10 || opts.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if opts.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if strings.TrimSpace(opts.meetingID) == "" {
		opts.meetingID = fmt.Sprintf("replay-%d", time.Now().Unix())
	}
	opts.startDelay = time.Duration(max(startDelayMS, 0)) * time.Millisecond
	opts.turnTimeout = time.Duration(max(turnTimeoutMS, 1000)) * time.Millisecond

	for _, part := range strings.Split(textsRaw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			opts.texts = append(opts.texts, t)
		}
	}
	if len(opts.texts) == 0 {
		opts.texts = append([]string(nil), defaultUtterances...)
	}
	return opts, nil
}

func run(opts options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	client := &http.Client{Timeout: 45 * time.Second}
	base := opts.baseURL + "/v1/meetings/" + url.PathEscape(opts.meetingID)

	if err := postJSON(ctx, client, base+"/session", map[string]string{"title": "replay"}, http.StatusCreated, nil); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		req, err := http.NewRequest(http.MethodDelete, base+"/session", nil)
		if err == nil {
			if res, err := client.Do(req); err == nil {
				res.Body.Close()
			}
		}
	}()

	clips, err := synthClips(ctx, client, opts)
	if err != nil {
		return fmt.Errorf("prepare utterance audio: %w", err)
	}

	wsURL, err := liveURL(opts.baseURL, opts.meetingID)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open live socket: %w", err)
	}
	defer conn.Close()

	turnEnds := make(chan liveEvent, 32)
	readErr := make(chan error, 1)
	go readLoop(conn, turnEnds, readErr, opts.verbose)

	if err := conn.WriteJSON(protocol.Control{Type: protocol.TypeControl, Action: "start"}); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	time.Sleep(opts.startDelay)

	latencies := make([]time.Duration, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		c := clips[i%len(clips)]
		if opts.verbose {
			fmt.Printf("meetreplay: turn %d/%d text=%q bytes=%d\n", i+1, opts.turns, c.Text, len(c.PCM))
		}
		if err := sendClip(conn, c, opts.chunkMS, opts.realtime); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		sent := time.Now()
		end, err := awaitTurnEnd(turnEnds, readErr, opts.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d await turn_end: %w", i+1, err)
		}
		elapsed := time.Since(sent)
		latencies = append(latencies, elapsed)
		if opts.verbose {
			fmt.Printf("meetreplay: turn %d reason=%s delivered=%v after=%s\n", i+1, end.Reason, end.Delivered, elapsed.Round(time.Millisecond))
		}
	}

	printSummary(latencies)
	return printServerLatency(ctx, client, opts.baseURL)
}

func postJSON(ctx context.Context, client *http.Client, u string, body any, want int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != want {
		return fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if b, ok := out.(*[]byte); ok {
		*b = raw
		return nil
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func synthClips(ctx context.Context, client *http.Client, opts options) ([]clip, error) {
	out := make([]clip, 0, len(opts.texts))
	for _, text := range opts.texts {
		var wav []byte
		req := map[string]string{"text": text, "voice": opts.voice, "format": "pcm_16000"}
		if err := postJSON(ctx, client, opts.baseURL+"/v1/tts", req, http.StatusOK, &wav); err != nil {
			return nil, fmt.Errorf("synthesize %q: %w", text, err)
		}
		pcm, rate, err := audio.DecodePCM16(wav)
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", text, err)
		}
		if len(pcm) == 0 {
			return nil, fmt.Errorf("synthesis for %q produced no audio", text)
		}
		out = append(out, clip{Text: text, PCM: pcm, SampleRate: rate})
	}
	return out, nil
}

func liveURL(baseURL, meetingID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/meetings/" + meetingID + "/live"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, turnEnds chan<- liveEvent, readErr chan<- error, verbose bool) {
	for {
		var ev liveEvent
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		switch protocol.MessageType(ev.Type) {
		case protocol.TypeTurnEnd:
			select {
			case turnEnds <- ev:
			default:
			}
		case protocol.TypeTranscript:
			if verbose {
				fmt.Printf("meetreplay:   %s: %s\n", ev.Speaker, ev.Text)
			}
		case protocol.TypeErrorEvent:
			fmt.Fprintf(os.Stderr, "meetreplay: error_event code=%s detail=%s\n", ev.Code, ev.Detail)
		}
	}
}

// chunkBytes is the even byte count covering chunkMS of PCM16 mono.
func chunkBytes(sampleRate, chunkMS int) int {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	n := sampleRate * 2 * chunkMS / 1000
	return max(n&^1, 2)
}

func sendClip(conn *websocket.Conn, c clip, chunkMS int, realtime float64) error {
	step := chunkBytes(c.SampleRate, chunkMS)
	pace := time.Duration(float64(time.Duration(chunkMS)*time.Millisecond) / realtime)
	for off := 0; off < len(c.PCM); off += step {
		end := min(off+step, len(c.PCM))
		msg := protocol.AudioChunk{
			Type:        protocol.TypeAudioChunk,
			AudioBase64: base64.StdEncoding.EncodeToString(c.PCM[off:end]),
			SampleRate:  c.SampleRate,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		time.Sleep(pace)
	}
	return nil
}

func awaitTurnEnd(turnEnds <-chan liveEvent, readErr <-chan error, timeout time.Duration) (liveEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-turnEnds:
		return ev, nil
	case err := <-readErr:
		return liveEvent{}, err
	case <-timer.C:
		return liveEvent{}, fmt.Errorf("timeout after %s", timeout)
	}
}

func printSummary(latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	fmt.Printf("meetreplay: turns=%d p50=%s max=%s\n",
		len(sorted),
		sorted[len(sorted)/2].Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond),
	)
}

func printServerLatency(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch server latency: %w", err)
	}
	defer res.Body.Close()
	var snap struct {
		Stages []struct {
			Stage string  `json:"stage"`
			P50MS float64 `json:"p50_ms"`
			P95MS float64 `json:"p95_ms"`
			Over  int     `json:"over_budget"`
		} `json:"stages"`
		Turns struct {
			Total        int            `json:"total"`
			DeliveryRate float64        `json:"delivery_rate"`
			Reasons      map[string]int `json:"reasons"`
		} `json:"turns"`
	}
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode server latency: %w", err)
	}
	for _, st := range snap.Stages {
		fmt.Printf("meetreplay: server %-12s p50=%.0fms p95=%.0fms over_budget=%d\n", st.Stage, st.P50MS, st.P95MS, st.Over)
	}
	fmt.Printf("meetreplay: server turns=%d delivered=%.0f%% reasons=%v\n", snap.Turns.Total, snap.Turns.DeliveryRate*100, snap.Turns.Reasons)
	return nil
}
