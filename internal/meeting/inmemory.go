package meeting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/meetbridge/internal/apperr"
)

type InMemoryCatalog struct {
	mu       sync.RWMutex
	meetings map[string]Meeting
}

func NewInMemoryCatalog() *InMemoryCatalog {
	return &InMemoryCatalog{meetings: make(map[string]Meeting)}
}

func (c *InMemoryCatalog) Agent(_ context.Context, meetingID string) (Agent, error) {
	c.mu.RLock()
	m, ok := c.meetings[meetingID]
	c.mu.RUnlock()
	if !ok {
		return DefaultAgent, nil
	}
	return withDefaults(m.Agent), nil
}

func (c *InMemoryCatalog) SetStatus(_ context.Context, meetingID string, status Status) error {
	if !status.Valid() {
		return apperr.E(apperr.CodeInvalidArgument, "meeting.SetStatus", fmt.Sprintf("invalid status %q", status), nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.meetings[meetingID]
	m.ID = meetingID
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	c.meetings[meetingID] = m
	return nil
}

func (c *InMemoryCatalog) Upsert(_ context.Context, m Meeting) error {
	if m.ID == "" {
		return apperr.E(apperr.CodeInvalidArgument, "meeting.Upsert", "meeting id is required", nil)
	}
	if m.Status == "" {
		m.Status = StatusUpcoming
	}
	if !m.Status.Valid() {
		return apperr.E(apperr.CodeInvalidArgument, "meeting.Upsert", fmt.Sprintf("invalid status %q", m.Status), nil)
	}
	m.UpdatedAt = time.Now().UTC()
	c.mu.Lock()
	c.meetings[m.ID] = m
	c.mu.Unlock()
	return nil
}

// Get is used by tests and the HTTP layer to read a full record.
func (c *InMemoryCatalog) Get(meetingID string) (Meeting, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.meetings[meetingID]
	return m, ok
}

func (c *InMemoryCatalog) Close() error { return nil }
