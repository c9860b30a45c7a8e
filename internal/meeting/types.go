package meeting

import (
	"context"
	"time"
)

type Status string

const (
	StatusUpcoming   Status = "upcoming"
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusActive, StatusProcessing, StatusCompleted:
		return true
	default:
		return false
	}
}

// Agent is the persona that speaks for a meeting.
type Agent struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
}

// DefaultAgent is used for meetings the catalog does not know about.
var DefaultAgent = Agent{
	Name:         "Assistant",
	Instructions: "You are a helpful meeting assistant.",
}

type Meeting struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Agent     Agent     `json:"agent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Catalog is the slice of the meeting record this service reads and writes.
type Catalog interface {
	Agent(ctx context.Context, meetingID string) (Agent, error)
	SetStatus(ctx context.Context, meetingID string, status Status) error
	Upsert(ctx context.Context, m Meeting) error
	Close() error
}

// withDefaults fills blank agent fields from DefaultAgent.
func withDefaults(a Agent) Agent {
	if a.Name == "" {
		a.Name = DefaultAgent.Name
	}
	if a.Instructions == "" {
		a.Instructions = DefaultAgent.Instructions
	}
	return a
}
