package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliprally/backend/internal/models"
)

// ErrDuplicatePayout is returned when a non-terminal payout already exists
// for the submission. Enforced by a partial unique index on
// payouts(submission_id) over non-terminal rows, so two concurrent
// milestone events cannot race into two payouts.
var ErrDuplicatePayout = errors.New("duplicate payout for submission")

// ErrUnknownPayout is a data integrity anomaly: a payout id that does not
// exist in the store.
var ErrUnknownPayout = errors.New("unknown payout")

const payoutColumns = `id, submission_id, clipper_id, creator_id, gross_cents, commission_cents, net_cents, status, gateway_transfer_id, failure_reason, created_at, completed_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts the payout inside the caller's transaction. A partial
// unique index violation maps to ErrDuplicatePayout.
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payout) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO payouts (id, submission_id, clipper_id, creator_id, gross_cents, commission_cents, net_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, p.ID, p.SubmissionID, p.ClipperID, p.CreatorID, p.GrossCents, p.CommissionCents, p.NetCents, p.Status).
		Scan(&p.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicatePayout
	}
	return err
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return scanPayout(r.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
}

// GetForUpdateTx locks the payout row, serializing concurrent webhook
// deliveries and administrative actions for the same payout.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Payout, error) {
	return scanPayout(tx.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) MarkReservedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	return guarded(tx.Exec(ctx, `
		UPDATE payouts SET status = $2 WHERE id = $1 AND status = $3
	`, id, models.PayoutStatusReserved, models.PayoutStatusPending))
}

// MarkTransferring advances reserved -> transferring and records the gateway
// transfer id. Returns false when the payout already moved on (an
// out-of-order webhook settled it first).
func (r *Repository) MarkTransferring(ctx context.Context, id uuid.UUID, transferID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payouts SET status = $2, gateway_transfer_id = $3 WHERE id = $1 AND status = $4
	`, id, models.PayoutStatusTransferring, transferID, models.PayoutStatusReserved)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkSucceededTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, transferID string) error {
	return guarded(tx.Exec(ctx, `
		UPDATE payouts
		SET status = $2, gateway_transfer_id = COALESCE(NULLIF($3, ''), gateway_transfer_id), completed_at = now()
		WHERE id = $1
	`, id, models.PayoutStatusSucceeded, transferID))
}

func (r *Repository) MarkFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error {
	return guarded(tx.Exec(ctx, `
		UPDATE payouts SET status = $2, failure_reason = $3, completed_at = now() WHERE id = $1
	`, id, models.PayoutStatusFailed, reason))
}

func (r *Repository) MarkReversedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error {
	return guarded(tx.Exec(ctx, `
		UPDATE payouts SET status = $2, failure_reason = $3, completed_at = now() WHERE id = $1
	`, id, models.PayoutStatusReversed, reason))
}

// StuckReserved lists payouts still reserved past the cutoff, i.e. the
// transfer job exhausted its attempts without reaching the gateway.
func (r *Repository) StuckReserved(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM payouts WHERE status = $1 AND created_at < $2 ORDER BY created_at
	`, models.PayoutStatusReserved, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByCreator returns a creator's payouts, newest first, so unpayable
// milestones stay visible.
func (r *Repository) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Payout, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+payoutColumns+` FROM payouts WHERE creator_id = $1 ORDER BY created_at DESC
	`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scanPayout(row pgx.Row) (*models.Payout, error) {
	var p models.Payout
	err := row.Scan(&p.ID, &p.SubmissionID, &p.ClipperID, &p.CreatorID, &p.GrossCents, &p.CommissionCents, &p.NetCents, &p.Status, &p.GatewayTransferID, &p.FailureReason, &p.CreatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownPayout
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func guarded(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownPayout
	}
	return nil
}
