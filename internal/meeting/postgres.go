package meeting

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/meetbridge/internal/apperr"
)

type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog uses a migrated pool owned by the caller.
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

func (c *PostgresCatalog) Agent(ctx context.Context, meetingID string) (Agent, error) {
	var a Agent
	err := c.pool.QueryRow(ctx,
		`SELECT agent_name, agent_instructions FROM meetings WHERE id = $1`,
		meetingID,
	).Scan(&a.Name, &a.Instructions)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultAgent, nil
	}
	if err != nil {
		return Agent{}, fmt.Errorf("load meeting agent: %w", err)
	}
	return withDefaults(a), nil
}

func (c *PostgresCatalog) SetStatus(ctx context.Context, meetingID string, status Status) error {
	if !status.Valid() {
		return apperr.E(apperr.CodeInvalidArgument, "meeting.SetStatus", fmt.Sprintf("invalid status %q", status), nil)
	}
	_, err := c.pool.Exec(ctx,
		`INSERT INTO meetings (id, status, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		meetingID, string(status),
	)
	if err != nil {
		return fmt.Errorf("set meeting status: %w", err)
	}
	return nil
}

func (c *PostgresCatalog) Upsert(ctx context.Context, m Meeting) error {
	if m.ID == "" {
		return apperr.E(apperr.CodeInvalidArgument, "meeting.Upsert", "meeting id is required", nil)
	}
	if m.Status == "" {
		m.Status = StatusUpcoming
	}
	if !m.Status.Valid() {
		return apperr.E(apperr.CodeInvalidArgument, "meeting.Upsert", fmt.Sprintf("invalid status %q", m.Status), nil)
	}
	_, err := c.pool.Exec(ctx,
		`INSERT INTO meetings (id, title, status, agent_name, agent_instructions, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   status = EXCLUDED.status,
		   agent_name = EXCLUDED.agent_name,
		   agent_instructions = EXCLUDED.agent_instructions,
		   updated_at = now()`,
		m.ID, m.Title, string(m.Status), m.Agent.Name, m.Agent.Instructions,
	)
	if err != nil {
		return fmt.Errorf("upsert meeting: %w", err)
	}
	return nil
}

func (c *PostgresCatalog) Close() error { return nil }
