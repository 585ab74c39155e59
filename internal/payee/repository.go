package payee

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cliprally/backend/internal/models"
)

// ErrNoPayeeAccount is returned when the clipper has never started
// onboarding. Actionable: the fix is to create the account.
var ErrNoPayeeAccount = errors.New("no payee account")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// Create inserts the payee account row. One row per clipper; a concurrent
// duplicate insert is a no-op and the existing row wins.
func (r *Repository) Create(ctx context.Context, p *models.PayeeAccount) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payee_accounts (clipper_id, gateway_account_id, charges_enabled, payouts_enabled, outstanding_requirements)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (clipper_id) DO NOTHING
	`, p.ClipperID, p.GatewayAccountID, p.ChargesEnabled, p.PayoutsEnabled, p.Requirements)
	return err
}

func (r *Repository) GetByClipperID(ctx context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT clipper_id, gateway_account_id, charges_enabled, payouts_enabled, outstanding_requirements, created_at, updated_at
		FROM payee_accounts WHERE clipper_id = $1
	`, clipperID))
}

func (r *Repository) GetByGatewayAccountID(ctx context.Context, accountID string) (*models.PayeeAccount, error) {
	return r.scanOne(r.pool.QueryRow(ctx, `
		SELECT clipper_id, gateway_account_id, charges_enabled, payouts_enabled, outstanding_requirements, created_at, updated_at
		FROM payee_accounts WHERE gateway_account_id = $1
	`, accountID))
}

// ApplyStatusTx writes the gateway-reported account status inside the
// caller's transaction. The webhook reconciler is the only status writer.
func (r *Repository) ApplyStatusTx(ctx context.Context, tx pgx.Tx, accountID string, chargesEnabled, payoutsEnabled bool, requirements []string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payee_accounts
		SET charges_enabled = $2, payouts_enabled = $3, outstanding_requirements = $4, updated_at = now()
		WHERE gateway_account_id = $1
	`, accountID, chargesEnabled, payoutsEnabled, requirements)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoPayeeAccount
	}
	return nil
}

func (r *Repository) scanOne(row pgx.Row) (*models.PayeeAccount, error) {
	var p models.PayeeAccount
	err := row.Scan(&p.ClipperID, &p.GatewayAccountID, &p.ChargesEnabled, &p.PayoutsEnabled, &p.Requirements, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPayeeAccount
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
