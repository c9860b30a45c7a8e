package transcript

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists transcripts in PostgreSQL. Order comes from the seq
// column, never from timestamps.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore uses a pool whose schema is already migrated; the caller
// owns the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, meetingID string, entry Entry) error {
	entry = normalize(entry)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcript_entries (id, meeting_id, speaker, text, spoken_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(),
		meetingID,
		entry.Speaker,
		entry.Text,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, meetingID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT speaker, text, spoken_at
		 FROM transcript_entries
		 WHERE meeting_id = $1
		 ORDER BY seq ASC`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 16)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Speaker, &e.Text, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error { return nil }
