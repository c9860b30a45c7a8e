package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ent0n29/meetbridge/internal/apperr"
)

type entry struct {
	session VoiceSession
	conn    Conn
}

// Registry maps meeting IDs to their live voice session.
type Registry struct {
	mu                sync.RWMutex
	entries           map[string]*entry
	inactivityTimeout time.Duration
	onEnd             func(meetingID string)
	logger            *log.Logger
}

func NewRegistry(inactivityTimeout time.Duration, logger *log.Logger) *Registry {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		entries:           make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
		logger:            logger.WithPrefix("session"),
	}
}

// SetEndHook registers a callback run after a session is removed, outside the lock.
func (r *Registry) SetEndHook(hook func(meetingID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnd = hook
}

// Create registers a session for meetingID. An existing entry is closed and
// replaced, so a meeting never has two live connections.
func (r *Registry) Create(meetingID string, conn Conn, instructions string) (*VoiceSession, error) {
	const op = "session.Create"
	meetingID = strings.TrimSpace(meetingID)
	if meetingID == "" {
		return nil, apperr.E(apperr.CodeInvalidArgument, op, "meeting id is required", nil)
	}
	if conn == nil {
		return nil, apperr.E(apperr.CodeInvalidArgument, op, "connection is required", nil)
	}

	now := time.Now().UTC()
	e := &entry{
		session: VoiceSession{
			MeetingID:      meetingID,
			Instructions:   instructions,
			State:          StateConnecting,
			CreatedAt:      now,
			LastActivityAt: now,
		},
		conn: conn,
	}

	r.mu.Lock()
	prev := r.entries[meetingID]
	r.entries[meetingID] = e
	snapshot := e.session
	r.mu.Unlock()

	if prev != nil && prev.conn != conn {
		r.logger.Warn("replacing live session", "meeting_id", meetingID)
		if err := prev.conn.Close(); err != nil {
			r.logger.Warn("closing replaced connection failed", "meeting_id", meetingID, "err", err)
		}
	}
	return &snapshot, nil
}

func (r *Registry) Get(meetingID string) (*VoiceSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[meetingID]
	if !ok {
		return nil, false
	}
	s := e.session
	return &s, true
}

func (r *Registry) Exists(meetingID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[meetingID]
	return ok
}

// End closes the session's connection and removes the entry. Ending an unknown
// meeting is a no-op. Close errors are logged, never returned.
func (r *Registry) End(meetingID string) {
	r.endIf(meetingID, nil)
}

// EndAll ends every live session. Used on shutdown.
func (r *Registry) EndAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.End(id)
	}
}

func (r *Registry) endIf(meetingID string, pred func(*entry) bool) bool {
	r.mu.Lock()
	e, ok := r.entries[meetingID]
	if ok && pred != nil && !pred(e) {
		ok = false
	}
	if ok {
		delete(r.entries, meetingID)
	}
	hook := r.onEnd
	r.mu.Unlock()

	if !ok {
		return false
	}
	if err := e.conn.Close(); err != nil {
		r.logger.Debug("connection close returned error", "meeting_id", meetingID, "err", err)
	}
	if hook != nil {
		hook(meetingID)
	}
	return true
}

func (r *Registry) MarkReady(meetingID string) error {
	return r.update(meetingID, "session.MarkReady", func(s *VoiceSession) {
		s.State = StateReady
	})
}

func (r *Registry) SetInstructions(meetingID, instructions string) error {
	return r.update(meetingID, "session.SetInstructions", func(s *VoiceSession) {
		s.Instructions = instructions
	})
}

func (r *Registry) Touch(meetingID string) error {
	return r.update(meetingID, "session.Touch", func(*VoiceSession) {})
}

// SendAudio forwards ingress audio to the meeting's connection without handing
// the connection out.
func (r *Registry) SendAudio(ctx context.Context, meetingID string, pcm []byte, sampleRate int) error {
	const op = "session.SendAudio"
	r.mu.Lock()
	e, ok := r.entries[meetingID]
	if ok {
		e.session.LastActivityAt = time.Now().UTC()
	}
	r.mu.Unlock()
	if !ok {
		return apperr.E(apperr.CodeNotFound, op, "no active voice session for meeting", nil)
	}
	if err := e.conn.SendAudio(ctx, pcm, sampleRate); err != nil {
		return apperr.E(apperr.CodeProvider, op, "forward audio failed", err)
	}
	return nil
}

// Flush asks the meeting's connection to hand over locally buffered audio now.
// It reports whether there was anything to hand over; connections that do not
// buffer report false.
func (r *Registry) Flush(meetingID string) bool {
	r.mu.RLock()
	e, ok := r.entries[meetingID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	f, ok := e.conn.(Flusher)
	return ok && f.Flush()
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// StartJanitor ends sessions that saw no activity for the inactivity timeout.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expireInactive()
			}
		}
	}()
}

func (r *Registry) expireInactive() {
	now := time.Now().UTC()
	var candidates []string

	r.mu.RLock()
	for id, e := range r.entries {
		if now.Sub(e.session.LastActivityAt) >= r.inactivityTimeout {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	// Re-check under the write lock: audio may have arrived in between.
	for _, id := range candidates {
		stale := func(e *entry) bool {
			return time.Since(e.session.LastActivityAt) >= r.inactivityTimeout
		}
		if r.endIf(id, stale) {
			r.logger.Info("expired inactive session", "meeting_id", id)
		}
	}
}

func (r *Registry) update(meetingID, op string, fn func(*VoiceSession)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[meetingID]
	if !ok {
		return apperr.E(apperr.CodeNotFound, op, "no active voice session for meeting", nil)
	}
	fn(&e.session)
	e.session.LastActivityAt = time.Now().UTC()
	return nil
}
