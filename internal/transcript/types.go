package transcript

import (
	"context"
	"time"
)

const SpeakerUser = "User"

// Entry is one line of a meeting transcript. Entries are append-only and are
// read back in the order they were appended.
type Entry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists meeting transcripts.
type Store interface {
	Append(ctx context.Context, meetingID string, entry Entry) error
	List(ctx context.Context, meetingID string) ([]Entry, error)
	Close() error
}

// normalize fills the timestamp and pins it to UTC.
func normalize(e Entry) Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	return e
}
