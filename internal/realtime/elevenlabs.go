package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/meetbridge/internal/audio"
	"github.com/ent0n29/meetbridge/internal/session"
)

type ElevenLabsConfig struct {
	APIKey    string
	WSBaseURL string
	ModelID   string
	Language  string
}

// ElevenLabsConn streams audio to the ElevenLabs realtime recognizer and
// reports committed transcripts through Callbacks.
type ElevenLabsConn struct {
	conn      *websocket.Conn
	cb        Callbacks
	logger    *log.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func DialElevenLabs(ctx context.Context, cfg ElevenLabsConfig, cb Callbacks, logger *log.Logger) (*ElevenLabsConn, error) {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "scribe_v2_realtime"
	}
	if logger == nil {
		logger = log.Default()
	}

	u, err := url.Parse(strings.TrimRight(cfg.WSBaseURL, "/") + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", cfg.ModelID)
	q.Set("commit_strategy", "vad")
	if lang := strings.TrimSpace(cfg.Language); lang != "" {
		if i := strings.IndexAny(lang, "-_"); i > 0 {
			lang = lang[:i]
		}
		q.Set("language_code", strings.ToLower(lang))
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	c := &ElevenLabsConn{conn: conn, cb: cb, logger: logger.WithPrefix("realtime"), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *ElevenLabsConn) SendAudio(ctx context.Context, pcm []byte, sampleRate int) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	payload := map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": base64.StdEncoding.EncodeToString(audio.PCMPayload(pcm)),
		"commit":        false,
		"sample_rate":   sampleRate,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}
	return c.conn.WriteJSON(payload)
}

// Done is closed once the read loop has stopped.
func (c *ElevenLabsConn) Done() <-chan struct{} { return c.done }

func (c *ElevenLabsConn) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			MessageType string `json:"message_type"`
			Text        string `json:"text"`
			Error       string `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.MessageType {
		case "partial_transcript":
			c.cb.partial(strings.TrimSpace(msg.Text))
		case "committed_transcript", "committed_transcript_with_timestamps":
			c.cb.transcript(strings.TrimSpace(msg.Text))
		case "session_started", "", "input_audio_chunk":
		default:
			c.logger.Warn("recognizer error event", "type", msg.MessageType, "detail", msg.Error)
			c.cb.fail(msg.MessageType, msg.Error)
		}
	}
}

func (c *ElevenLabsConn) shutdown() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.done)
	})
}

func (c *ElevenLabsConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

// ElevenLabsDialer opens one recognizer socket per meeting. CallbacksFor binds
// the socket's output to that meeting.
type ElevenLabsDialer struct {
	Config       ElevenLabsConfig
	CallbacksFor func(meetingID string) Callbacks
	Logger       *log.Logger
}

func (d *ElevenLabsDialer) Dial(ctx context.Context, meetingID string) (session.Conn, error) {
	var cb Callbacks
	if d.CallbacksFor != nil {
		cb = d.CallbacksFor(meetingID)
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	conn, err := DialElevenLabs(ctx, d.Config, cb, logger.With("meeting_id", meetingID))
	if err != nil {
		return nil, err
	}
	return conn, nil
}
