package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/meetbridge/internal/apperr"
	"github.com/ent0n29/meetbridge/internal/logging"
)

type fakeConn struct {
	mu      sync.Mutex
	closes  int
	sent    [][]byte
	sendErr error
}

func (c *fakeConn) SendAudio(_ context.Context, pcm []byte, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, pcm)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func newTestRegistry(timeout time.Duration) *Registry {
	return NewRegistry(timeout, logging.Discard())
}

func TestRegistryCreateGetEnd(t *testing.T) {
	r := newTestRegistry(time.Minute)
	conn := &fakeConn{}

	created, err := r.Create("m1", conn, "be brief")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.State != StateConnecting {
		t.Fatalf("State = %q, want %q", created.State, StateConnecting)
	}
	if !r.Exists("m1") {
		t.Fatalf("Exists(m1) = false after Create")
	}
	if err := r.MarkReady("m1"); err != nil {
		t.Fatalf("MarkReady() error = %v", err)
	}
	got, ok := r.Get("m1")
	if !ok || got.State != StateReady || got.Instructions != "be brief" {
		t.Fatalf("Get(m1) = %+v, %v", got, ok)
	}

	r.End("m1")
	if r.Exists("m1") {
		t.Fatalf("Exists(m1) = true after End")
	}
	if conn.Closes() != 1 {
		t.Fatalf("conn closes = %d, want 1", conn.Closes())
	}
}

func TestRegistryEndIsIdempotent(t *testing.T) {
	r := newTestRegistry(time.Minute)
	r.End("never-created")
	if r.Exists("never-created") {
		t.Fatalf("Exists after End on unknown meeting = true")
	}

	conn := &fakeConn{}
	if _, err := r.Create("m1", conn, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	r.End("m1")
	r.End("m1")
	if r.Exists("m1") {
		t.Fatalf("Exists(m1) = true after double End")
	}
	if conn.Closes() != 1 {
		t.Fatalf("conn closes = %d, want 1", conn.Closes())
	}
}

func TestRegistryCreateClosesReplacedConnection(t *testing.T) {
	r := newTestRegistry(time.Minute)
	first := &fakeConn{}
	second := &fakeConn{}

	if _, err := r.Create("m1", first, ""); err != nil {
		t.Fatalf("Create(first) error = %v", err)
	}
	if _, err := r.Create("m1", second, ""); err != nil {
		t.Fatalf("Create(second) error = %v", err)
	}
	if first.Closes() != 1 {
		t.Fatalf("replaced conn closes = %d, want 1", first.Closes())
	}
	if second.Closes() != 0 {
		t.Fatalf("current conn closes = %d, want 0", second.Closes())
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", r.ActiveCount())
	}
}

func TestRegistryCreateValidates(t *testing.T) {
	r := newTestRegistry(time.Minute)
	if _, err := r.Create("  ", &fakeConn{}, ""); !apperr.IsCode(err, apperr.CodeInvalidArgument) {
		t.Fatalf("Create(blank) error = %v, want invalid_argument", err)
	}
	if _, err := r.Create("m1", nil, ""); !apperr.IsCode(err, apperr.CodeInvalidArgument) {
		t.Fatalf("Create(nil conn) error = %v, want invalid_argument", err)
	}
}

func TestRegistrySendAudio(t *testing.T) {
	r := newTestRegistry(time.Minute)
	if err := r.SendAudio(context.Background(), "m1", []byte{1}, 16000); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("SendAudio(unknown) error = %v, want not_found", err)
	}

	conn := &fakeConn{}
	if _, err := r.Create("m1", conn, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := r.SendAudio(context.Background(), "m1", []byte{1, 2}, 16000); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	conn.sendErr = errors.New("socket gone")
	if err := r.SendAudio(context.Background(), "m1", []byte{3}, 16000); !apperr.IsCode(err, apperr.CodeProvider) {
		t.Fatalf("SendAudio(failing conn) error = %v, want provider", err)
	}
}

func TestRegistryEndHookRuns(t *testing.T) {
	r := newTestRegistry(time.Minute)
	var ended []string
	r.SetEndHook(func(id string) { ended = append(ended, id) })

	if _, err := r.Create("m1", &fakeConn{}, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	r.End("m1")
	r.End("m1")
	if len(ended) != 1 || ended[0] != "m1" {
		t.Fatalf("ended = %v, want [m1]", ended)
	}
}

func TestRegistryJanitorExpiresInactive(t *testing.T) {
	r := newTestRegistry(30 * time.Millisecond)
	conn := &fakeConn{}
	if _, err := r.Create("m1", conn, ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for r.Exists("m1") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r.Exists("m1") {
		t.Fatalf("session not expired by janitor")
	}
	if conn.Closes() != 1 {
		t.Fatalf("conn closes = %d, want 1", conn.Closes())
	}
}

func TestRegistryEndAll(t *testing.T) {
	r := newTestRegistry(time.Minute)
	a, b := &fakeConn{}, &fakeConn{}
	if _, err := r.Create("m1", a, ""); err != nil {
		t.Fatalf("Create(m1) error = %v", err)
	}
	if _, err := r.Create("m2", b, ""); err != nil {
		t.Fatalf("Create(m2) error = %v", err)
	}
	r.EndAll()
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
	if a.Closes() != 1 || b.Closes() != 1 {
		t.Fatalf("closes = %d/%d, want 1/1", a.Closes(), b.Closes())
	}
}

type flushingConn struct {
	fakeConn
	pending bool
}

func (c *flushingConn) Flush() bool {
	had := c.pending
	c.pending = false
	return had
}

func TestRegistryFlush(t *testing.T) {
	r := newTestRegistry(time.Minute)
	if r.Flush("missing") {
		t.Fatalf("Flush() on unknown meeting = true")
	}
	if _, err := r.Create("plain", &fakeConn{}, ""); err != nil {
		t.Fatalf("Create(plain) error = %v", err)
	}
	if r.Flush("plain") {
		t.Fatalf("Flush() on a non-buffering conn = true")
	}
	conn := &flushingConn{pending: true}
	if _, err := r.Create("m1", conn, ""); err != nil {
		t.Fatalf("Create(m1) error = %v", err)
	}
	if !r.Flush("m1") {
		t.Fatalf("Flush() = false with pending audio")
	}
	if r.Flush("m1") {
		t.Fatalf("second Flush() = true")
	}
}

func TestRegistrySetInstructionsAndTouch(t *testing.T) {
	r := newTestRegistry(time.Minute)
	if err := r.SetInstructions("m1", "x"); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("SetInstructions(unknown) = %v, want not_found", err)
	}
	if _, err := r.Create("m1", &fakeConn{}, "first"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	before, _ := r.Get("m1")
	time.Sleep(5 * time.Millisecond)
	if err := r.SetInstructions("m1", "You are Zed."); err != nil {
		t.Fatalf("SetInstructions() error = %v", err)
	}
	if err := r.Touch("m1"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	after, _ := r.Get("m1")
	if after.Instructions != "You are Zed." {
		t.Fatalf("instructions = %q", after.Instructions)
	}
	if !after.LastActivityAt.After(before.LastActivityAt) {
		t.Fatalf("LastActivityAt not advanced")
	}
}
