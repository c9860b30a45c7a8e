package transcript

import "github.com/jackc/pgx/v5/pgxpool"

// NewStore creates a postgres-backed store when a pool is configured,
// otherwise in-memory.
func NewStore(pool *pgxpool.Pool) Store {
	if pool == nil {
		return NewInMemoryStore()
	}
	return NewPostgresStore(pool)
}
