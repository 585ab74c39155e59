package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cliprally/backend/internal/models"
	"github.com/cliprally/backend/internal/payee"
	"github.com/cliprally/backend/internal/payout"
	"github.com/cliprally/backend/internal/wallet"
)

// EventStore is the dedup ledger. Implemented by *Repository.
type EventStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	InsertEventTx(ctx context.Context, tx pgx.Tx, id, kind string) (bool, error)
}

// DepositLedger is the wallet slice the reconciler settles deposits through.
type DepositLedger interface {
	ConfirmDepositTx(ctx context.Context, tx pgx.Tx, intentID uuid.UUID, gatewayReference string) (*models.DepositIntent, error)
	FailDepositTx(ctx context.Context, tx pgx.Tx, intentID uuid.UUID, reason string) error
}

// PayeeDirectory applies account-status events.
type PayeeDirectory interface {
	ApplyStatusTx(ctx context.Context, tx pgx.Tx, accountID string, chargesEnabled, payoutsEnabled bool, requirements []string) error
}

// PayoutSettler applies terminal transfer outcomes.
type PayoutSettler interface {
	HandleTransferOutcomeTx(ctx context.Context, tx pgx.Tx, payoutID uuid.UUID, success bool, transferID, reason string) error
}

// Reconciler is the single ingestion point for asynchronous gateway events.
// Every event is processed in one transaction with its dedup record: replays
// and redeliveries are absorbed exactly once, out-of-order deliveries are
// tolerated by the services it dispatches to.
type Reconciler struct {
	events  EventStore
	wallets DepositLedger
	payees  PayeeDirectory
	payouts PayoutSettler
	log     *slog.Logger
}

func NewReconciler(events EventStore, wallets DepositLedger, payees PayeeDirectory, payouts PayoutSettler, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{events: events, wallets: wallets, payees: payees, payouts: payouts, log: log}
}

type depositEventPayload struct {
	DepositIntentID uuid.UUID `json:"deposit_intent_id"`
	Reference       string    `json:"gateway_reference"`
	FailureReason   string    `json:"failure_reason"`
}

type payeeEventPayload struct {
	AccountID      string   `json:"account_id"`
	ChargesEnabled bool     `json:"charges_enabled"`
	PayoutsEnabled bool     `json:"payouts_enabled"`
	Requirements   []string `json:"requirements"`
}

type transferEventPayload struct {
	PayoutID      uuid.UUID `json:"payout_id"`
	TransferID    string    `json:"transfer_id"`
	FailureReason string    `json:"failure_reason"`
}

// HandleEvent applies one verified gateway event. Returning nil acknowledges
// the delivery; returning an error asks the gateway to redeliver, and the
// transaction rollback guarantees the dedup record is not left behind.
func (r *Reconciler) HandleEvent(ctx context.Context, event models.GatewayEvent) error {
	if event.ID == "" || event.Kind == "" {
		return fmt.Errorf("malformed event: missing id or kind")
	}

	tx, err := r.events.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	inserted, err := r.events.InsertEventTx(ctx, tx, event.ID, event.Kind)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	if !inserted {
		r.log.Info("gateway event replayed, ignoring", "event_id", event.ID, "kind", event.Kind)
		return nil
	}

	if err := r.dispatch(ctx, tx, event); err != nil {
		if acknowledged := r.closeConflict(event, err); acknowledged {
			// Redelivery cannot fix a terminal-state conflict or an unknown
			// reference; commit the dedup record so the gateway stops retrying.
			return tx.Commit(ctx)
		}
		return err
	}
	return tx.Commit(ctx)
}

func (r *Reconciler) dispatch(ctx context.Context, tx pgx.Tx, event models.GatewayEvent) error {
	switch event.Kind {
	case models.EventDepositSucceeded:
		var p depositEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Kind, err)
		}
		_, err := r.wallets.ConfirmDepositTx(ctx, tx, p.DepositIntentID, p.Reference)
		return err

	case models.EventDepositFailed:
		var p depositEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Kind, err)
		}
		reason := p.FailureReason
		if reason == "" {
			reason = "deposit failed at gateway"
		}
		return r.wallets.FailDepositTx(ctx, tx, p.DepositIntentID, reason)

	case models.EventPayeeUpdated:
		var p payeeEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Kind, err)
		}
		return r.payees.ApplyStatusTx(ctx, tx, p.AccountID, p.ChargesEnabled, p.PayoutsEnabled, p.Requirements)

	case models.EventTransferSucceeded:
		var p transferEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Kind, err)
		}
		return r.payouts.HandleTransferOutcomeTx(ctx, tx, p.PayoutID, true, p.TransferID, "")

	case models.EventTransferFailed:
		var p transferEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", event.Kind, err)
		}
		reason := p.FailureReason
		if reason == "" {
			reason = "transfer failed at gateway"
		}
		return r.payouts.HandleTransferOutcomeTx(ctx, tx, p.PayoutID, false, p.TransferID, reason)

	default:
		// Unknown kinds are acknowledged so the gateway does not retry them
		// forever, but they are logged for operators.
		r.log.Warn("unhandled gateway event kind", "event_id", event.ID, "kind", event.Kind)
		return nil
	}
}

// closeConflict reports whether err is an anomaly no redelivery can resolve:
// a terminal-state conflict, or a reference to an intent, payout, or payee we
// never created. Those are logged and acknowledged; returning the error would
// have the gateway redeliver the same event forever.
func (r *Reconciler) closeConflict(event models.GatewayEvent, err error) bool {
	if errors.Is(err, wallet.ErrIntentAlreadyFailed) ||
		errors.Is(err, wallet.ErrIntentAlreadySucceeded) ||
		errors.Is(err, wallet.ErrUnknownIntent) ||
		errors.Is(err, payout.ErrUnknownPayout) ||
		errors.Is(err, payee.ErrNoPayeeAccount) {
		r.log.Error("gateway event cannot be applied, acknowledging",
			"event_id", event.ID, "kind", event.Kind, "error", err)
		return true
	}
	return false
}
