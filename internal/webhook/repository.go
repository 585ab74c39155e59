package webhook

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists processed gateway event ids for deduplication.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// InsertEventTx records the event id inside the caller's transaction. Returns
// false when the id was already recorded, i.e. this delivery is a replay. The
// insert commits atomically with the mutation it guards, so a crash between
// the two cannot strand a half-processed event.
func (r *Repository) InsertEventTx(ctx context.Context, tx pgx.Tx, id, kind string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO gateway_events (id, kind) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING
	`, id, kind)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
