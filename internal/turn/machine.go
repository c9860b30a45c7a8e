package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/ent0n29/meetbridge/internal/llm"
	"github.com/ent0n29/meetbridge/internal/meeting"
	"github.com/ent0n29/meetbridge/internal/observability"
	"github.com/ent0n29/meetbridge/internal/protocol"
	"github.com/ent0n29/meetbridge/internal/room"
	"github.com/ent0n29/meetbridge/internal/session"
	"github.com/ent0n29/meetbridge/internal/stt"
	"github.com/ent0n29/meetbridge/internal/transcript"
	"github.com/ent0n29/meetbridge/internal/tts"
)

// Synthesizer is the slice of the TTS adapter a turn needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceHint string) (tts.Result, error)
}

// Sessions is the slice of the session registry a turn reads. A session's
// instructions override the catalog agent's.
type Sessions interface {
	Get(meetingID string) (*session.VoiceSession, bool)
	Touch(meetingID string) error
}

// Deps are the collaborators shared by every meeting's machine.
type Deps struct {
	Sessions    Sessions
	Transcriber stt.Transcriber
	Generator   llm.Generator
	Synthesizer Synthesizer
	Publisher   room.Publisher
	Transcripts transcript.Store
	Catalog     meeting.Catalog
	Metrics     *observability.Metrics
	Logger      *log.Logger
	TurnTimeout time.Duration
	VoiceHint   string
}

const (
	ReasonCompleted       = "completed"
	ReasonDropped         = "dropped"
	ReasonEmptyTranscript = "empty_transcript"
	ReasonEmptyReply      = "empty_reply"
	ReasonPersistFailed   = "persist_failed"
	ReasonGenerateFailed  = "generate_failed"
	ReasonSynthFailed     = "synthesize_failed"
	ReasonPublishFailed   = "publish_failed"
)

// Outcome describes how a turn ended. A failed turn still returns a nil error
// from HandleFinal; the failure is recorded here.
type Outcome struct {
	TurnID     string      `json:"turn_id"`
	Transcript string      `json:"transcript"`
	Reply      string      `json:"reply,omitempty"`
	Voice      string      `json:"voice,omitempty"`
	Published  room.Result `json:"published"`
	Reason     string      `json:"reason"`
	AbortedAt  State       `json:"aborted_at,omitempty"`
	Err        error       `json:"-"`
}

// Machine drives one meeting's turns. Turns never overlap: a turn only starts
// from Listening and every turn ends in Idle.
type Machine struct {
	meetingID string
	deps      Deps
	logger    *log.Logger
	emit      func(any)
	onIdle    func()

	mu           sync.Mutex
	state        State
	interim      string
	turnID       string
	autoRelisten bool
}

func newMachine(meetingID string, deps Deps, emit func(any)) *Machine {
	if emit == nil {
		emit = func(any) {}
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Machine{
		meetingID: meetingID,
		deps:      deps,
		logger:    logger.WithPrefix("turn").With("meeting_id", meetingID),
		emit:      emit,
		state:     StateIdle,
	}
}

func (m *Machine) MeetingID() string { return m.meetingID }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Interim() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interim
}

// Busy reports whether a turn is running.
func (m *Machine) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return inTurn(m.state)
}

// SetAutoRelisten re-arms listening at the end of every turn.
func (m *Machine) SetAutoRelisten(on bool) {
	m.mu.Lock()
	m.autoRelisten = on
	m.mu.Unlock()
}

func (m *Machine) StartListening() error {
	m.mu.Lock()
	if m.state == StateListening {
		m.mu.Unlock()
		return nil
	}
	if inTurn(m.state) {
		m.mu.Unlock()
		return ErrBusy
	}
	if err := m.setLocked(StateListening); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	m.emitState(StateListening, "")
	return nil
}

func (m *Machine) StopListening() {
	m.mu.Lock()
	if m.state != StateListening {
		m.mu.Unlock()
		return
	}
	_ = m.setLocked(StateIdle)
	m.interim = ""
	m.mu.Unlock()
	m.emitState(StateIdle, "")
}

// SetInterim updates the displayed interim buffer. It never starts a turn.
func (m *Machine) SetInterim(text string) {
	text = strings.TrimSpace(text)
	m.mu.Lock()
	if m.state != StateListening {
		m.mu.Unlock()
		return
	}
	m.interim = text
	m.mu.Unlock()
	m.emit(protocol.InterimEcho{Type: protocol.TypeInterimEcho, MeetingID: m.meetingID, Text: text})
}

// HandleFinal runs a full turn for an already-recognized utterance.
func (m *Machine) HandleFinal(ctx context.Context, text string) (Outcome, error) {
	turnID, err := m.begin()
	if err != nil {
		return Outcome{}, err
	}
	m.touch()
	ctx, cancel := m.turnContext(ctx)
	defer cancel()
	return m.run(ctx, turnID, time.Now(), strings.TrimSpace(text)), nil
}

// HandleAudio runs batch recognition on pcm and then the same turn.
func (m *Machine) HandleAudio(ctx context.Context, pcm []byte, sampleRate int) (Outcome, error) {
	turnID, err := m.begin()
	if err != nil {
		return Outcome{}, err
	}
	m.touch()
	ctx, cancel := m.turnContext(ctx)
	defer cancel()

	started := time.Now()
	var text string
	if m.deps.Transcriber != nil {
		text = m.deps.Transcriber.Transcribe(ctx, pcm, sampleRate).Transcript
	}
	m.deps.Metrics.ObserveTurnStage("transcribe", time.Since(started))
	return m.run(ctx, turnID, started, text), nil
}

// turnContext detaches the turn from the caller's cancellation: a turn in
// flight when its client goes away still runs to completion.
func (m *Machine) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := m.deps.TurnTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (m *Machine) begin() (string, error) {
	m.mu.Lock()
	switch {
	case inTurn(m.state):
		m.mu.Unlock()
		return "", ErrBusy
	case m.state != StateListening:
		m.mu.Unlock()
		return "", ErrNotListening
	}
	if err := m.setLocked(StateTranscribing); err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.turnID = uuid.NewString()
	m.interim = ""
	turnID := m.turnID
	m.mu.Unlock()
	m.emitState(StateTranscribing, turnID)
	return turnID, nil
}

func (m *Machine) run(ctx context.Context, turnID string, started time.Time, text string) Outcome {
	out := Outcome{TurnID: turnID, Transcript: text}
	logger := m.logger.With("turn_id", turnID)

	if text == "" {
		return m.finish(out, ReasonEmptyTranscript, nil, started)
	}

	agent, err := m.agent(ctx)
	if err != nil {
		logger.Warn("agent lookup failed, using default agent", "err", err)
	}

	if err := m.persist(ctx, turnID, transcript.SpeakerUser, text); err != nil {
		return m.fail(out, ReasonPersistFailed, err, started)
	}

	if err := m.advance(StateGenerating, turnID); err != nil {
		return m.fail(out, ReasonGenerateFailed, err, started)
	}
	stageStart := time.Now()
	reply, err := m.deps.Generator.Generate(ctx, text, agent.Instructions)
	m.deps.Metrics.ObserveTurnStage("generate", time.Since(stageStart))
	if err != nil {
		logger.Warn("generation failed", "err", err)
		return m.fail(out, ReasonGenerateFailed, err, started)
	}
	reply = strings.TrimSpace(reply)
	out.Reply = reply
	if reply == "" {
		return m.finish(out, ReasonEmptyReply, nil, started)
	}

	if err := m.persist(ctx, turnID, agent.Name, reply); err != nil {
		return m.fail(out, ReasonPersistFailed, err, started)
	}

	if err := m.advance(StateSynthesizing, turnID); err != nil {
		return m.fail(out, ReasonSynthFailed, err, started)
	}
	stageStart = time.Now()
	speech, err := m.deps.Synthesizer.Synthesize(ctx, reply, m.deps.VoiceHint)
	m.deps.Metrics.ObserveTurnStage("synthesize", time.Since(stageStart))
	if err != nil {
		logger.Warn("synthesis failed", "err", err)
		return m.fail(out, ReasonSynthFailed, err, started)
	}
	out.Voice = speech.Voice

	if err := m.advance(StatePublishing, turnID); err != nil {
		return m.fail(out, ReasonPublishFailed, err, started)
	}
	stageStart = time.Now()
	res, err := m.deps.Publisher.Publish(ctx, m.meetingID, speech.Audio)
	m.deps.Metrics.ObserveTurnStage("publish", time.Since(stageStart))
	out.Published = res
	if err != nil {
		logger.Warn("publish failed", "err", err)
		return m.fail(out, ReasonPublishFailed, err, started)
	}
	if !res.Delivered {
		logger.Debug("reply published with no listeners", "backend", res.Backend)
		return m.finish(out, ReasonDropped, nil, started)
	}
	return m.finish(out, ReasonCompleted, nil, started)
}

// agent resolves who answers this turn: the catalog agent (or the default
// one), with the live session's instructions taking precedence.
func (m *Machine) agent(ctx context.Context) (meeting.Agent, error) {
	agent := meeting.DefaultAgent
	var err error
	if m.deps.Catalog != nil {
		var a meeting.Agent
		if a, err = m.deps.Catalog.Agent(ctx, m.meetingID); err == nil {
			agent = a
		}
	}
	if m.deps.Sessions != nil {
		if sess, ok := m.deps.Sessions.Get(m.meetingID); ok {
			if instructions := strings.TrimSpace(sess.Instructions); instructions != "" {
				agent.Instructions = instructions
			}
		}
	}
	return agent, err
}

// touch counts a turn as session activity for the inactivity janitor.
func (m *Machine) touch() {
	if m.deps.Sessions != nil {
		_ = m.deps.Sessions.Touch(m.meetingID)
	}
}

func (m *Machine) persist(ctx context.Context, turnID, speaker, text string) error {
	if m.deps.Transcripts != nil {
		entry := transcript.Entry{Speaker: speaker, Text: text, Timestamp: time.Now().UTC()}
		if err := m.deps.Transcripts.Append(ctx, m.meetingID, entry); err != nil {
			return err
		}
	}
	m.emit(protocol.TranscriptEvent{
		Type:      protocol.TypeTranscript,
		MeetingID: m.meetingID,
		TurnID:    turnID,
		Speaker:   speaker,
		Text:      text,
	})
	return nil
}

func (m *Machine) advance(to State, turnID string) error {
	m.mu.Lock()
	err := m.setLocked(to)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.emitState(to, turnID)
	return nil
}

func (m *Machine) fail(out Outcome, reason string, err error, started time.Time) Outcome {
	if err == nil {
		err = errors.New(reason)
	}
	return m.finish(out, reason, err, started)
}

// finish ends the turn in Idle (through Error when err is set) and re-arms
// listening when configured.
func (m *Machine) finish(out Outcome, reason string, err error, started time.Time) Outcome {
	out.Reason = reason
	out.Err = err

	m.mu.Lock()
	if reason != ReasonCompleted && reason != ReasonDropped {
		out.AbortedAt = m.state
	}
	var path []State
	if err != nil && m.setLocked(StateError) == nil {
		path = append(path, StateError)
	}
	if m.setLocked(StateIdle) != nil {
		// Only reachable on a bookkeeping bug; never leave a meeting stuck.
		m.state = StateIdle
	}
	path = append(path, StateIdle)
	if m.autoRelisten && m.setLocked(StateListening) == nil {
		path = append(path, StateListening)
	}
	m.turnID = ""
	m.mu.Unlock()

	for _, s := range path {
		m.emitState(s, out.TurnID)
	}
	m.emit(protocol.TurnEnd{
		Type:      protocol.TypeTurnEnd,
		MeetingID: m.meetingID,
		TurnID:    out.TurnID,
		Reason:    reason,
		Delivered: out.Published.Delivered,
		Listeners: out.Published.Listeners,
	})
	m.deps.Metrics.ObserveTurnStage("turn_total", time.Since(started))
	m.deps.Metrics.ObserveTurnOutcome(reason, out.Published.Delivered)
	if m.onIdle != nil {
		m.onIdle()
	}
	return out
}

func (m *Machine) setLocked(to State) error {
	if err := transition(m.state, to); err != nil {
		return err
	}
	m.state = to
	return nil
}

func (m *Machine) emitState(s State, turnID string) {
	m.emit(protocol.StateEvent{Type: protocol.TypeState, MeetingID: m.meetingID, State: string(s), TurnID: turnID})
}
