package payee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cliprally/backend/internal/gateway"
	"github.com/cliprally/backend/internal/models"
)

// The payee-not-ready taxonomy. Payout initiation must tell a clipper exactly
// why they cannot be paid, not hand back a generic failure.
var (
	// ErrOnboardingIncomplete: the account exists but the gateway still
	// lists outstanding requirements. Wrapped errors carry the codes.
	ErrOnboardingIncomplete = errors.New("payee onboarding incomplete")
	// ErrPayoutsDisabled: onboarding looks complete but the gateway has not
	// enabled payouts (e.g. missing bank details under review).
	ErrPayoutsDisabled = errors.New("payee payouts disabled")
)

// Store is the persistence slice the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, p *models.PayeeAccount) error
	GetByClipperID(ctx context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error)
	GetByGatewayAccountID(ctx context.Context, accountID string) (*models.PayeeAccount, error)
	ApplyStatusTx(ctx context.Context, tx pgx.Tx, accountID string, chargesEnabled, payoutsEnabled bool, requirements []string) error
}

// AccountGateway is the slice of the payment gateway the service needs.
type AccountGateway interface {
	CreatePayeeAccount(ctx context.Context, clipperID uuid.UUID, country string) (*gateway.PayeeAccountResult, error)
	GetPayeeAccountStatus(ctx context.Context, accountID string) (*gateway.AccountStatus, error)
}

type Service struct {
	store   Store
	gateway AccountGateway
	log     *slog.Logger
}

func NewService(store Store, gw AccountGateway, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, gateway: gw, log: log}
}

// Onboard creates the clipper's connected account on first call and returns
// the gateway onboarding URL. Idempotent per clipper: repeat calls return the
// existing account with a fresh status.
func (s *Service) Onboard(ctx context.Context, clipperID uuid.UUID, country string) (*models.PayeeAccount, string, error) {
	existing, err := s.store.GetByClipperID(ctx, clipperID)
	if err == nil {
		if refreshed, refreshErr := s.Refresh(ctx, clipperID); refreshErr == nil {
			existing = refreshed
		}
		return existing, "", nil
	}
	if !errors.Is(err, ErrNoPayeeAccount) {
		return nil, "", err
	}

	created, err := s.gateway.CreatePayeeAccount(ctx, clipperID, country)
	if err != nil {
		return nil, "", fmt.Errorf("create payee account: %w", err)
	}

	account := &models.PayeeAccount{
		ClipperID:        clipperID,
		GatewayAccountID: created.AccountID,
		Requirements:     []string{},
	}
	if err := s.store.Create(ctx, account); err != nil {
		return nil, "", fmt.Errorf("persist payee account: %w", err)
	}

	// Create is ON CONFLICT DO NOTHING, so a concurrent first-time onboard may
	// have inserted its row between our read and our insert. Re-read and hand
	// back whatever actually won; a losing gateway account is abandoned.
	stored, err := s.store.GetByClipperID(ctx, clipperID)
	if err != nil {
		return nil, "", err
	}
	if stored.GatewayAccountID != created.AccountID {
		s.log.Warn("concurrent onboard won the insert, abandoning gateway account",
			"clipper_id", clipperID,
			"abandoned_gateway_account_id", created.AccountID,
			"gateway_account_id", stored.GatewayAccountID)
		return stored, "", nil
	}

	s.log.Info("payee account created", "clipper_id", clipperID, "gateway_account_id", created.AccountID)
	return stored, created.OnboardingURL, nil
}

// Get returns the stored payee account.
func (s *Service) Get(ctx context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error) {
	return s.store.GetByClipperID(ctx, clipperID)
}

// Readiness returns the payee account if payouts can be sent to it, or one
// of ErrNoPayeeAccount, ErrOnboardingIncomplete (with requirement codes), or
// ErrPayoutsDisabled.
func (s *Service) Readiness(ctx context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error) {
	account, err := s.store.GetByClipperID(ctx, clipperID)
	if err != nil {
		return nil, err
	}
	if account.PayoutsEnabled {
		return account, nil
	}
	if len(account.Requirements) > 0 {
		return nil, fmt.Errorf("%w: outstanding requirements [%s]",
			ErrOnboardingIncomplete, strings.Join(account.Requirements, ", "))
	}
	return nil, ErrPayoutsDisabled
}

// Refresh pulls the account status from the gateway on demand (the
// onboarding-return flow) and writes it through the reconciler's path.
func (s *Service) Refresh(ctx context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error) {
	account, err := s.store.GetByClipperID(ctx, clipperID)
	if err != nil {
		return nil, err
	}
	status, err := s.gateway.GetPayeeAccountStatus(ctx, account.GatewayAccountID)
	if err != nil {
		return nil, fmt.Errorf("get payee account status: %w", err)
	}
	if err := s.applyStatus(ctx, account.GatewayAccountID, status.ChargesEnabled, status.PayoutsEnabled, status.Requirements); err != nil {
		return nil, err
	}
	return s.store.GetByClipperID(ctx, clipperID)
}

// ApplyStatusTx records a gateway account-status event. Reconciler-only.
func (s *Service) ApplyStatusTx(ctx context.Context, tx pgx.Tx, accountID string, chargesEnabled, payoutsEnabled bool, requirements []string) error {
	if requirements == nil {
		requirements = []string{}
	}
	if err := s.store.ApplyStatusTx(ctx, tx, accountID, chargesEnabled, payoutsEnabled, requirements); err != nil {
		return err
	}
	s.log.Info("payee account status updated",
		"gateway_account_id", accountID,
		"charges_enabled", chargesEnabled,
		"payouts_enabled", payoutsEnabled,
		"outstanding_requirements", requirements)
	return nil
}

func (s *Service) applyStatus(ctx context.Context, accountID string, chargesEnabled, payoutsEnabled bool, requirements []string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.ApplyStatusTx(ctx, tx, accountID, chargesEnabled, payoutsEnabled, requirements); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
