package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cliprally/backend/internal/commission"
	"github.com/cliprally/backend/internal/gateway"
	"github.com/cliprally/backend/internal/models"
)

// ErrIntentAlreadyFailed is returned when a success confirmation arrives for
// an intent already in the failed terminal state. Conflicting terminal
// transitions are rejected and logged, never overwritten.
var ErrIntentAlreadyFailed = errors.New("deposit intent already failed")

// ErrIntentAlreadySucceeded is the mirror conflict: a failure notification
// for an intent that already credited the wallet.
var ErrIntentAlreadySucceeded = errors.New("deposit intent already succeeded")

// Store is the ledger persistence the service needs. Implemented by
// *Repository; mocked in tests.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	EnsureWallet(ctx context.Context, creatorID uuid.UUID, currency string) error
	GetWallet(ctx context.Context, creatorID uuid.UUID) (*models.Wallet, error)
	CreditTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) (int64, error)
	ReserveTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) (int64, error)
	ReleaseTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) (int64, error)
	CommitReservationTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) (int64, error)
	CreateDepositIntent(ctx context.Context, d *models.DepositIntent) error
	SetIntentGatewayReference(ctx context.Context, id uuid.UUID, reference string) error
	GetIntentForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.DepositIntent, error)
	MarkIntentSucceededTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reference string) error
	MarkIntentFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error
	GetDepositIntent(ctx context.Context, id uuid.UUID) (*models.DepositIntent, error)
}

// Authorizer is the slice of the payment gateway the wallet needs.
type Authorizer interface {
	AuthorizeDeposit(ctx context.Context, req gateway.AuthorizeDepositRequest) (*gateway.DepositAuthorization, error)
}

// Service is the wallet ledger manager: deposit intents, confirmed credits,
// and the reservation ledger for in-flight payouts. Balances only move
// through guarded single-statement updates in the Store.
type Service struct {
	store    Store
	gateway  Authorizer
	calc     commission.Calculator
	currency string
	log      *slog.Logger
}

func NewService(store Store, gw Authorizer, calc commission.Calculator, currency string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, gateway: gw, calc: calc, currency: currency, log: log}
}

// RequestDeposit validates bounds, persists a created intent, and asks the
// gateway to authorize the gross charge. The wallet is not credited here;
// that happens when the reconciler confirms the deposit.
func (s *Service) RequestDeposit(ctx context.Context, creatorID uuid.UUID, requestedCents int64) (*models.DepositIntent, string, error) {
	split, err := s.calc.SplitForDeposit(requestedCents)
	if err != nil {
		return nil, "", err
	}

	if err := s.store.EnsureWallet(ctx, creatorID, s.currency); err != nil {
		return nil, "", fmt.Errorf("ensure wallet: %w", err)
	}

	intent := &models.DepositIntent{
		ID:              uuid.New(),
		CreatorID:       creatorID,
		RequestedCents:  requestedCents,
		GrossCents:      split.GrossCents,
		CommissionCents: split.CommissionCents,
		NetCreditCents:  split.NetCreditCents,
		Status:          models.DepositStatusCreated,
	}
	if err := s.store.CreateDepositIntent(ctx, intent); err != nil {
		return nil, "", fmt.Errorf("create deposit intent: %w", err)
	}

	auth, err := s.gateway.AuthorizeDeposit(ctx, gateway.AuthorizeDepositRequest{
		AmountCents: split.GrossCents,
		Currency:    s.currency,
		Metadata:    map[string]string{"deposit_intent_id": intent.ID.String()},
	})
	if err != nil {
		// No gateway-side object exists, so no event will ever resolve this
		// intent. Close it out now.
		if failErr := s.FailDeposit(ctx, intent.ID, "gateway authorization failed"); failErr != nil {
			s.log.Error("fail deposit after authorization error", "deposit_intent_id", intent.ID, "error", failErr)
		}
		return nil, "", fmt.Errorf("authorize deposit: %w", err)
	}

	if err := s.store.SetIntentGatewayReference(ctx, intent.ID, auth.Reference); err != nil {
		return nil, "", fmt.Errorf("record gateway reference: %w", err)
	}
	intent.GatewayReference = auth.Reference

	s.log.Info("deposit intent created",
		"deposit_intent_id", intent.ID,
		"creator_id", creatorID,
		"requested_cents", requestedCents,
		"gross_cents", split.GrossCents,
		"commission_cents", split.CommissionCents)
	return intent, auth.ClientToken, nil
}

// Balance returns the creator's wallet. A creator who never deposited gets a
// zero wallet rather than an error.
func (s *Service) Balance(ctx context.Context, creatorID uuid.UUID) (*models.Wallet, error) {
	w, err := s.store.GetWallet(ctx, creatorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.Wallet{CreatorID: creatorID, Currency: s.currency}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetDepositIntent exposes a single intent for the read API.
func (s *Service) GetDepositIntent(ctx context.Context, id uuid.UUID) (*models.DepositIntent, error) {
	return s.store.GetDepositIntent(ctx, id)
}

// ConfirmDepositTx applies a confirmed deposit inside the caller's
// transaction: intent created -> succeeded plus the wallet credit, atomically.
// Replays of an already-succeeded intent are no-ops and never double-credit.
func (s *Service) ConfirmDepositTx(ctx context.Context, tx pgx.Tx, intentID uuid.UUID, gatewayReference string) (*models.DepositIntent, error) {
	intent, err := s.store.GetIntentForUpdateTx(ctx, tx, intentID)
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case models.DepositStatusSucceeded:
		s.log.Info("deposit confirmation replayed, ignoring",
			"deposit_intent_id", intentID, "gateway_reference", gatewayReference)
		return intent, nil
	case models.DepositStatusFailed:
		s.log.Error("deposit confirmation for failed intent rejected",
			"deposit_intent_id", intentID, "gateway_reference", gatewayReference)
		return nil, ErrIntentAlreadyFailed
	}

	if err := s.store.MarkIntentSucceededTx(ctx, tx, intentID, gatewayReference); err != nil {
		return nil, fmt.Errorf("mark intent succeeded: %w", err)
	}
	newAvailable, err := s.store.CreditTx(ctx, tx, intent.CreatorID, intent.NetCreditCents)
	if err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	s.log.Info("deposit confirmed",
		"deposit_intent_id", intentID,
		"creator_id", intent.CreatorID,
		"credited_cents", intent.NetCreditCents,
		"available_before", newAvailable-intent.NetCreditCents,
		"available_after", newAvailable)

	intent.Status = models.DepositStatusSucceeded
	intent.GatewayReference = gatewayReference
	return intent, nil
}

// ConfirmDeposit runs ConfirmDepositTx in its own transaction.
func (s *Service) ConfirmDeposit(ctx context.Context, intentID uuid.UUID, gatewayReference string) (*models.DepositIntent, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	intent, err := s.ConfirmDepositTx(ctx, tx, intentID, gatewayReference)
	if err != nil {
		return nil, err
	}
	return intent, tx.Commit(ctx)
}

// FailDepositTx marks an intent failed. Idempotent; no wallet mutation.
func (s *Service) FailDepositTx(ctx context.Context, tx pgx.Tx, intentID uuid.UUID, reason string) error {
	intent, err := s.store.GetIntentForUpdateTx(ctx, tx, intentID)
	if err != nil {
		return err
	}

	switch intent.Status {
	case models.DepositStatusFailed:
		s.log.Info("deposit failure replayed, ignoring", "deposit_intent_id", intentID)
		return nil
	case models.DepositStatusSucceeded:
		s.log.Error("deposit failure for succeeded intent rejected", "deposit_intent_id", intentID)
		return ErrIntentAlreadySucceeded
	}

	if err := s.store.MarkIntentFailedTx(ctx, tx, intentID, reason); err != nil {
		return fmt.Errorf("mark intent failed: %w", err)
	}
	s.log.Info("deposit failed", "deposit_intent_id", intentID, "reason", reason)
	return nil
}

// FailDeposit runs FailDepositTx in its own transaction.
func (s *Service) FailDeposit(ctx context.Context, intentID uuid.UUID, reason string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.FailDepositTx(ctx, tx, intentID, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ReserveTx earmarks amount for an in-flight payout. Surfaces
// ErrInsufficientFunds to the orchestrator; never retried blindly.
func (s *Service) ReserveTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) error {
	newAvailable, err := s.store.ReserveTx(ctx, tx, creatorID, amount)
	if err != nil {
		return err
	}
	s.log.Info("funds reserved",
		"creator_id", creatorID,
		"amount_cents", amount,
		"available_before", newAvailable+amount,
		"available_after", newAvailable)
	return nil
}

// ReleaseTx returns a reservation to the available balance.
func (s *Service) ReleaseTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) error {
	newAvailable, err := s.store.ReleaseTx(ctx, tx, creatorID, amount)
	if err != nil {
		return err
	}
	s.log.Info("reservation released",
		"creator_id", creatorID,
		"amount_cents", amount,
		"available_before", newAvailable-amount,
		"available_after", newAvailable)
	return nil
}

// CommitReservationTx spends a reservation permanently.
func (s *Service) CommitReservationTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) error {
	newReserved, err := s.store.CommitReservationTx(ctx, tx, creatorID, amount)
	if err != nil {
		return err
	}
	s.log.Info("reservation committed",
		"creator_id", creatorID,
		"amount_cents", amount,
		"reserved_before", newReserved+amount,
		"reserved_after", newReserved)
	return nil
}
