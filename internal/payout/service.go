package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cliprally/backend/internal/commission"
	"github.com/cliprally/backend/internal/gateway"
	"github.com/cliprally/backend/internal/models"
	"github.com/cliprally/backend/internal/transfer"
	"github.com/cliprally/backend/internal/wallet"
)

// ErrBudgetExhausted is the expected business failure: the creator's
// available budget cannot cover the payout. The payout row stays pending so
// the unpayable milestone remains visible and retryable after a top-up.
var ErrBudgetExhausted = errors.New("creator budget exhausted")

// ErrNotCancellable: cancellation is allowed only in pending or reserved.
// Once transferring, the gateway may already be moving funds.
var ErrNotCancellable = errors.New("payout is not cancellable in its current state")

// ErrNotRetryable: retry applies only to payouts parked in pending.
var ErrNotRetryable = errors.New("payout is not retryable in its current state")

// Store is the payout persistence slice used by the service.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.Payout) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Payout, error)
	MarkReservedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	MarkTransferring(ctx context.Context, id uuid.UUID, transferID string) (bool, error)
	MarkSucceededTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, transferID string) error
	MarkFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error
	MarkReversedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reason string) error
	StuckReserved(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Payout, error)
}

// Reservations is the wallet ledger slice the orchestrator moves funds with.
type Reservations interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) error
	ReleaseTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) error
	CommitReservationTx(ctx context.Context, tx pgx.Tx, creatorID uuid.UUID, amount int64) error
}

// PayeeDirectory answers whether a clipper can receive transfers.
type PayeeDirectory interface {
	Readiness(ctx context.Context, clipperID uuid.UUID) (*models.PayeeAccount, error)
}

// TransferGateway is the slice of the payment gateway used here.
type TransferGateway interface {
	CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error)
}

// InsertTransferJobTxFunc enqueues a transfer initiation job within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertTransferJobTxFunc func(ctx context.Context, tx pgx.Tx, args transfer.InitiateTransferArgs) error

// Service is the payout orchestrator. It owns the payout state machine
// (pending -> reserved -> transferring -> succeeded|failed, with reversals)
// and is the only mutator of payout rows.
type Service struct {
	store             Store
	wallets           Reservations
	payees            PayeeDirectory
	gateway           TransferGateway
	calc              commission.Calculator
	currency          string
	insertTransferJob InsertTransferJobTxFunc
	log               *slog.Logger
}

func NewService(
	store Store,
	wallets Reservations,
	payees PayeeDirectory,
	gw TransferGateway,
	calc commission.Calculator,
	currency string,
	insertTransferJob InsertTransferJobTxFunc,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:             store,
		wallets:           wallets,
		payees:            payees,
		gateway:           gw,
		calc:              calc,
		currency:          currency,
		insertTransferJob: insertTransferJob,
		log:               log,
	}
}

var _ transfer.PayoutService = (*Service)(nil)
var _ transfer.StuckPayoutLister = (*Service)(nil)

// InitiatePayout creates the payout for a submission milestone and reserves
// the creator's funds. Exactly one non-terminal payout may exist per
// submission; a second concurrent call gets ErrDuplicatePayout. When the
// budget cannot cover the gross amount, the payout is persisted pending and
// ErrBudgetExhausted is returned alongside it.
func (s *Service) InitiatePayout(ctx context.Context, submissionID, clipperID, creatorID uuid.UUID, grossCents int64) (*models.Payout, error) {
	split, err := s.calc.SplitForPayout(grossCents)
	if err != nil {
		return nil, err
	}

	// Payee readiness first: the most common real-world failure, and it must
	// not leave a payout row behind.
	if _, err := s.payees.Readiness(ctx, clipperID); err != nil {
		return nil, err
	}

	p := &models.Payout{
		ID:              uuid.New(),
		SubmissionID:    submissionID,
		ClipperID:       clipperID,
		CreatorID:       creatorID,
		GrossCents:      grossCents,
		CommissionCents: split.CommissionCents,
		NetCents:        split.NetCents,
		Status:          models.PayoutStatusPending,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.store.CreateTx(ctx, tx, p); err != nil {
		return nil, err
	}

	if err := s.wallets.ReserveTx(ctx, tx, creatorID, grossCents); err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			// Keep the pending row: creators must see unpayable milestones.
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return nil, commitErr
			}
			s.log.Info("payout pending on exhausted budget",
				"payout_id", p.ID, "submission_id", submissionID, "creator_id", creatorID, "gross_cents", grossCents)
			return p, ErrBudgetExhausted
		}
		return nil, err
	}

	if err := s.store.MarkReservedTx(ctx, tx, p.ID); err != nil {
		return nil, err
	}
	p.Status = models.PayoutStatusReserved

	if err := s.insertTransferJob(ctx, tx, transfer.InitiateTransferArgs{PayoutID: p.ID}); err != nil {
		return nil, fmt.Errorf("enqueue transfer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("payout reserved",
		"payout_id", p.ID,
		"submission_id", submissionID,
		"clipper_id", clipperID,
		"creator_id", creatorID,
		"gross_cents", grossCents,
		"net_cents", split.NetCents)
	return p, nil
}

// StartTransfer drives one reserved payout through the gateway. Called from
// the background worker; a transient error return means "retry with backoff".
func (s *Service) StartTransfer(ctx context.Context, payoutID uuid.UUID) error {
	p, err := s.store.GetByID(ctx, payoutID)
	if err != nil {
		return err
	}
	if p.Status != models.PayoutStatusReserved {
		// Already transferring, settled out-of-order, or reversed.
		s.log.Info("skipping transfer initiation", "payout_id", payoutID, "status", p.Status)
		return nil
	}

	account, err := s.payees.Readiness(ctx, p.ClipperID)
	if err != nil {
		// The payee became ineligible after reservation: undo it.
		s.log.Warn("payee no longer eligible, reversing payout", "payout_id", payoutID, "error", err)
		return s.reverse(ctx, payoutID, fmt.Sprintf("payee ineligible: %v", err))
	}

	// The key ties every submission for this payout to one gateway-side
	// transfer. A re-drive job can overlap a still-retrying original job, so
	// two workers may both pass the reserved check and both reach the
	// gateway; the key makes the second submission a no-op there and the
	// money moves once.
	result, err := s.gateway.CreateTransfer(ctx, gateway.TransferRequest{
		AccountID:      account.GatewayAccountID,
		AmountCents:    p.NetCents,
		Currency:       s.currency,
		Metadata:       map[string]string{"payout_id": p.ID.String()},
		IdempotencyKey: "payout-" + p.ID.String(),
	})
	if err != nil {
		if gateway.IsTransient(err) {
			return err
		}
		// Permanent rejection: release the funds and close the payout.
		s.log.Warn("gateway rejected transfer", "payout_id", payoutID, "error", err)
		return s.HandleTransferOutcome(ctx, payoutID, false, "", err.Error())
	}

	advanced, err := s.store.MarkTransferring(ctx, p.ID, result.TransferID)
	if err != nil {
		return err
	}
	if !advanced {
		// The success webhook arrived before our acknowledgment was recorded.
		s.log.Info("payout advanced before transfer acknowledgment", "payout_id", payoutID)
		return nil
	}

	s.log.Info("transfer submitted", "payout_id", payoutID, "gateway_transfer_id", result.TransferID, "net_cents", p.NetCents)
	return nil
}

// HandleTransferOutcomeTx applies a terminal transfer outcome inside the
// caller's transaction. Idempotent: replays against terminal payouts are
// logged no-ops, never double-committing or double-releasing funds. Accepts
// payouts in reserved as well as transferring, since gateway events are not
// causally ordered.
func (s *Service) HandleTransferOutcomeTx(ctx context.Context, tx pgx.Tx, payoutID uuid.UUID, success bool, transferID, reason string) error {
	p, err := s.store.GetForUpdateTx(ctx, tx, payoutID)
	if err != nil {
		return err
	}
	if p.Terminal() {
		s.log.Info("transfer outcome replayed for settled payout, ignoring",
			"payout_id", payoutID, "status", p.Status, "success", success)
		return nil
	}
	if p.Status == models.PayoutStatusPending {
		return fmt.Errorf("transfer outcome for payout %s still pending (never reserved)", payoutID)
	}

	if success {
		if err := s.wallets.CommitReservationTx(ctx, tx, p.CreatorID, p.GrossCents); err != nil {
			return fmt.Errorf("commit reservation: %w", err)
		}
		if err := s.store.MarkSucceededTx(ctx, tx, payoutID, transferID); err != nil {
			return err
		}
		s.log.Info("payout succeeded",
			"payout_id", payoutID, "clipper_id", p.ClipperID, "net_cents", p.NetCents)
		return nil
	}

	if err := s.wallets.ReleaseTx(ctx, tx, p.CreatorID, p.GrossCents); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	if err := s.store.MarkFailedTx(ctx, tx, payoutID, reason); err != nil {
		return err
	}
	s.log.Info("payout failed, reservation released",
		"payout_id", payoutID, "clipper_id", p.ClipperID, "reason", reason)
	return nil
}

// HandleTransferOutcome runs HandleTransferOutcomeTx in its own transaction.
func (s *Service) HandleTransferOutcome(ctx context.Context, payoutID uuid.UUID, success bool, transferID, reason string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.HandleTransferOutcomeTx(ctx, tx, payoutID, success, transferID, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Cancel administratively reverses a payout. Only pending and reserved
// payouts can be cancelled; once transferring, the gateway may already be
// moving funds.
func (s *Service) Cancel(ctx context.Context, payoutID uuid.UUID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := s.store.GetForUpdateTx(ctx, tx, payoutID)
	if err != nil {
		return err
	}
	switch p.Status {
	case models.PayoutStatusPending:
		// Nothing reserved yet.
	case models.PayoutStatusReserved:
		if err := s.wallets.ReleaseTx(ctx, tx, p.CreatorID, p.GrossCents); err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
	default:
		return ErrNotCancellable
	}
	if err := s.store.MarkReversedTx(ctx, tx, payoutID, "cancelled by operator"); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("payout cancelled", "payout_id", payoutID, "previous_status", p.Status)
	return nil
}

// RetryPending re-attempts the reservation for a payout parked in pending
// after budget exhaustion.
func (s *Service) RetryPending(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	p, err := s.store.GetForUpdateTx(ctx, tx, payoutID)
	if err != nil {
		return nil, err
	}
	if p.Status != models.PayoutStatusPending {
		return nil, ErrNotRetryable
	}

	if err := s.wallets.ReserveTx(ctx, tx, p.CreatorID, p.GrossCents); err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			return nil, ErrBudgetExhausted
		}
		return nil, err
	}
	if err := s.store.MarkReservedTx(ctx, tx, p.ID); err != nil {
		return nil, err
	}
	if err := s.insertTransferJob(ctx, tx, transfer.InitiateTransferArgs{PayoutID: p.ID}); err != nil {
		return nil, fmt.Errorf("enqueue transfer: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	p.Status = models.PayoutStatusReserved
	s.log.Info("pending payout re-reserved", "payout_id", p.ID, "gross_cents", p.GrossCents)
	return p, nil
}

// Get returns one payout for the read API.
func (s *Service) Get(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	return s.store.GetByID(ctx, payoutID)
}

// ListByCreator returns a creator's payout history, pending rows included.
func (s *Service) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.Payout, error) {
	return s.store.ListByCreator(ctx, creatorID)
}

// StuckReserved implements transfer.StuckPayoutLister for the re-drive sweep.
func (s *Service) StuckReserved(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	return s.store.StuckReserved(ctx, olderThan)
}

// reverse releases the reservation and marks the payout reversed. Used when
// the payee became ineligible between reservation and transfer.
func (s *Service) reverse(ctx context.Context, payoutID uuid.UUID, reason string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := s.store.GetForUpdateTx(ctx, tx, payoutID)
	if err != nil {
		return err
	}
	if p.Terminal() {
		return nil
	}
	if p.Status == models.PayoutStatusReserved || p.Status == models.PayoutStatusTransferring {
		if err := s.wallets.ReleaseTx(ctx, tx, p.CreatorID, p.GrossCents); err != nil {
			return fmt.Errorf("release reservation: %w", err)
		}
	}
	if err := s.store.MarkReversedTx(ctx, tx, payoutID, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
