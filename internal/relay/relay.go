// Package relay fans synthesized audio out to live listeners of a meeting and
// keeps a bounded backlog of recent chunks.
package relay

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const DefaultBufferSize = 100

// Chunk is immutable once published.
type Chunk struct {
	ID        string
	MeetingID string
	Seq       uint64
	Data      []byte
	Timestamp time.Time
}

// Delivery reports what happened to one published chunk.
type Delivery struct {
	Chunk       Chunk
	Subscribers int
	Delivered   int
	Failed      int
}

// Dropped is true when no subscriber received the chunk.
func (d Delivery) Dropped() bool { return d.Delivered == 0 }

type subscription struct {
	id   uint64
	fn   func(Chunk)
	done chan struct{}
}

type meetingAudio struct {
	chunks []Chunk
	subs   []subscription
	seq    uint64
}

type Relay struct {
	mu       sync.Mutex
	size     int
	meetings map[string]*meetingAudio
	nextSub  uint64
	logger   *log.Logger
	observe  func(result string)
}

func New(size int, logger *log.Logger) *Relay {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		size:     size,
		meetings: make(map[string]*meetingAudio),
		logger:   logger.WithPrefix("relay"),
	}
}

// SetObserver receives "delivered" or "dropped" for every publish.
func (r *Relay) SetObserver(fn func(result string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observe = fn
}

// Publish appends a chunk, evicts the oldest beyond the buffer size and
// synchronously notifies every current subscriber of meetingID.
func (r *Relay) Publish(meetingID string, data []byte) Delivery {
	buf := make([]byte, len(data))
	copy(buf, data)

	r.mu.Lock()
	m := r.meetingLocked(meetingID)
	m.seq++
	chunk := Chunk{
		ID:        uuid.NewString(),
		MeetingID: meetingID,
		Seq:       m.seq,
		Data:      buf,
		Timestamp: time.Now(),
	}
	m.chunks = append(m.chunks, chunk)
	if over := len(m.chunks) - r.size; over > 0 {
		// Copy forward so the evicted prefix can be collected.
		m.chunks = append(m.chunks[:0:0], m.chunks[over:]...)
	}
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	observe := r.observe
	r.mu.Unlock()

	d := Delivery{Chunk: chunk, Subscribers: len(subs)}
	for _, s := range subs {
		if err := notify(s.fn, chunk); err != nil {
			d.Failed++
			r.logger.Warn("subscriber failed", "meeting_id", meetingID, "sub", s.id, "err", err)
			continue
		}
		d.Delivered++
	}
	if observe != nil {
		if d.Dropped() {
			observe("dropped")
		} else {
			observe("delivered")
		}
	}
	return d
}

func notify(fn func(Chunk), c Chunk) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subscriber panic: %v", rec)
		}
	}()
	fn(c)
	return nil
}

// Subscribe registers fn for meetingID. The returned function removes exactly
// this registration and may be called any number of times.
func (r *Relay) Subscribe(meetingID string, fn func(Chunk)) func() {
	_, unsubscribe := r.SubscribeStream(meetingID, fn)
	return unsubscribe
}

// SubscribeStream is Subscribe for long-lived listeners: done is closed when
// Clear drops the registration, after which fn is never called again.
func (r *Relay) SubscribeStream(meetingID string, fn func(Chunk)) (done <-chan struct{}, unsubscribe func()) {
	ch := make(chan struct{})
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	m := r.meetingLocked(meetingID)
	m.subs = append(m.subs, subscription{id: id, fn: fn, done: ch})
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { r.unsubscribe(meetingID, id) })
	}
}

func (r *Relay) unsubscribe(meetingID string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[meetingID]
	if !ok {
		return
	}
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			break
		}
	}
	if len(m.subs) == 0 && len(m.chunks) == 0 {
		delete(r.meetings, meetingID)
	}
}

// Recent returns up to count of the newest chunks, oldest first.
func (r *Relay) Recent(meetingID string, count int) []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[meetingID]
	if !ok || count <= 0 || len(m.chunks) == 0 {
		return []Chunk{}
	}
	if count > len(m.chunks) {
		count = len(m.chunks)
	}
	out := make([]Chunk, count)
	copy(out, m.chunks[len(m.chunks)-count:])
	return out
}

// Clear drops the backlog and every subscription for meetingID and closes
// each subscription's done channel.
func (r *Relay) Clear(meetingID string) {
	r.mu.Lock()
	m, ok := r.meetings[meetingID]
	delete(r.meetings, meetingID)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, s := range m.subs {
		close(s.done)
	}
}

func (r *Relay) SubscriberCount(meetingID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meetings[meetingID]; ok {
		return len(m.subs)
	}
	return 0
}

// TotalSubscribers counts subscribers across all meetings.
func (r *Relay) TotalSubscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.meetings {
		n += len(m.subs)
	}
	return n
}

func (r *Relay) Buffered(meetingID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meetings[meetingID]; ok {
		return len(m.chunks)
	}
	return 0
}

func (r *Relay) meetingLocked(meetingID string) *meetingAudio {
	m, ok := r.meetings[meetingID]
	if !ok {
		m = &meetingAudio{}
		r.meetings[meetingID] = m
	}
	return m
}
