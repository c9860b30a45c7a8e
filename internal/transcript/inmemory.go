package transcript

import (
	"context"
	"sync"
)

// InMemoryStore keeps transcripts in process memory for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, meetingID string, entry Entry) error {
	entry = normalize(entry)
	s.mu.Lock()
	s.entries[meetingID] = append(s.entries[meetingID], entry)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) List(_ context.Context, meetingID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries[meetingID]))
	copy(out, s.entries[meetingID])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
