package transfer

import (
	"context"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// InitiateTransferArgs asks the worker to drive one reserved payout through
// the gateway transfer call. Enqueued transactionally with the reservation.
type InitiateTransferArgs struct {
	PayoutID uuid.UUID `json:"payout_id"`
}

func (InitiateTransferArgs) Kind() string { return "initiate_transfer" }

// PayoutService is the contract the worker needs to drive a payout.
// Returning a transient error lets river retry with backoff; permanent
// outcomes are settled inside StartTransfer and return nil.
type PayoutService interface {
	StartTransfer(ctx context.Context, payoutID uuid.UUID) error
}

type InitiateTransferWorker struct {
	river.WorkerDefaults[InitiateTransferArgs]
	payouts PayoutService
}

func NewInitiateTransferWorker(payouts PayoutService) *InitiateTransferWorker {
	return &InitiateTransferWorker{payouts: payouts}
}

func (w *InitiateTransferWorker) Work(ctx context.Context, job *river.Job[InitiateTransferArgs]) error {
	return w.payouts.StartTransfer(ctx, job.Args.PayoutID)
}
