package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliprally/backend/internal/models"
)

// ErrInsufficientFunds is returned when a guarded balance update matches no
// row: the wallet is missing or the relevant balance is too low.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrUnknownIntent is returned when a deposit intent id does not exist.
// A confirmation for an unknown intent is a data integrity anomaly.
var ErrUnknownIntent = errors.New("unknown deposit intent")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// EnsureWallet creates the creator's wallet row if it does not exist yet.
// Wallets appear on the first deposit attempt and are never deleted.
func (r *Repository) EnsureWallet(ctx context.Context, creatorID uuid.UUID, currency string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallets (creator_id, available_cents, reserved_cents, currency)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (creator_id) DO NOTHING
	`, creatorID, currency)
	return err
}

func (r *Repository) GetWallet(ctx context.Context, creatorID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		SELECT creator_id, available_cents, reserved_cents, currency, created_at, updated_at
		FROM wallets WHERE creator_id = $1
	`, creatorID).Scan(&w.CreatorID, &w.AvailableCents, &w.ReservedCents, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreditTx adds amount to available_cents inside the caller's transaction and
// returns the new available balance. A single atomic statement.
func (r *Repository) CreditTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) (newAvailable int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallets SET available_cents = available_cents + $1, updated_at = now()
		WHERE creator_id = $2
		RETURNING available_cents
	`, amount, creatorID).Scan(&newAvailable)
	return newAvailable, err
}

// ReserveTx moves amount from available to reserved, guarded so the balance
// can never go negative. Returns ErrInsufficientFunds when the guard fails.
func (r *Repository) ReserveTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) (newAvailable int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallets
		SET available_cents = available_cents - $1, reserved_cents = reserved_cents + $1, updated_at = now()
		WHERE creator_id = $2 AND available_cents >= $1
		RETURNING available_cents
	`, amount, creatorID).Scan(&newAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	return newAvailable, err
}

// ReleaseTx returns a reserved amount to available (payout failed/reversed).
func (r *Repository) ReleaseTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) (newAvailable int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallets
		SET available_cents = available_cents + $1, reserved_cents = reserved_cents - $1, updated_at = now()
		WHERE creator_id = $2 AND reserved_cents >= $1
		RETURNING available_cents
	`, amount, creatorID).Scan(&newAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	return newAvailable, err
}

// CommitReservationTx removes a reserved amount permanently (funds spent).
func (r *Repository) CommitReservationTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) (newReserved int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallets
		SET reserved_cents = reserved_cents - $1, updated_at = now()
		WHERE creator_id = $2 AND reserved_cents >= $1
		RETURNING reserved_cents
	`, amount, creatorID).Scan(&newReserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientFunds
	}
	return newReserved, err
}

func (r *Repository) CreateDepositIntent(ctx context.Context, d *models.DepositIntent) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO deposit_intents (id, creator_id, requested_cents, gross_cents, commission_cents, net_credit_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, d.ID, d.CreatorID, d.RequestedCents, d.GrossCents, d.CommissionCents, d.NetCreditCents, d.Status).
		Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *Repository) SetIntentGatewayReference(ctx context.Context, id uuid.UUID, reference string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deposit_intents SET gateway_reference = $2, updated_at = now() WHERE id = $1
	`, id, reference)
	return err
}

// GetIntentForUpdateTx locks the intent row. The row lock serializes
// concurrent confirmations of the same intent across process instances.
func (r *Repository) GetIntentForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.DepositIntent, error) {
	var d models.DepositIntent
	var ref *string
	err := tx.QueryRow(ctx, `
		SELECT id, creator_id, requested_cents, gross_cents, commission_cents, net_credit_cents, status, gateway_reference, failure_reason, created_at, updated_at
		FROM deposit_intents WHERE id = $1 FOR UPDATE
	`, id).Scan(&d.ID, &d.CreatorID, &d.RequestedCents, &d.GrossCents, &d.CommissionCents, &d.NetCreditCents, &d.Status, &ref, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownIntent
	}
	if err != nil {
		return nil, err
	}
	if ref != nil {
		d.GatewayReference = *ref
	}
	return &d, nil
}

// MarkIntentSucceededTx transitions created -> succeeded. The status guard
// means a replay that lost the row-lock race still cannot re-apply.
func (r *Repository) MarkIntentSucceededTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reference string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE deposit_intents SET status = $2, gateway_reference = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, models.DepositStatusSucceeded, reference, models.DepositStatusCreated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownIntent
	}
	return nil
}

func (r *Repository) MarkIntentFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE deposit_intents SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, models.DepositStatusFailed, reason, models.DepositStatusCreated)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownIntent
	}
	return nil
}

func (r *Repository) GetDepositIntent(ctx context.Context, id uuid.UUID) (*models.DepositIntent, error) {
	var d models.DepositIntent
	var ref *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, creator_id, requested_cents, gross_cents, commission_cents, net_credit_cents, status, gateway_reference, failure_reason, created_at, updated_at
		FROM deposit_intents WHERE id = $1
	`, id).Scan(&d.ID, &d.CreatorID, &d.RequestedCents, &d.GrossCents, &d.CommissionCents, &d.NetCreditCents, &d.Status, &ref, &d.FailureReason, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownIntent
	}
	if err != nil {
		return nil, err
	}
	if ref != nil {
		d.GatewayReference = *ref
	}
	return &d, nil
}
