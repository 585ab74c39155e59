package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// RedriveStuckPayoutsArgs is the periodic sweep over payouts that stayed
// reserved after the transfer job exhausted its attempts. Funds must never
// sit reserved without a resolution path.
type RedriveStuckPayoutsArgs struct{}

func (RedriveStuckPayoutsArgs) Kind() string { return "redrive_stuck_payouts" }

// StuckPayoutLister finds payouts reserved for longer than the cutoff.
type StuckPayoutLister interface {
	StuckReserved(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
}

// EnqueueTransferFunc re-enqueues one transfer initiation job. Provided by
// main as a closure over river.Client.Insert.
type EnqueueTransferFunc func(ctx context.Context, payoutID uuid.UUID) error

type RedriveWorker struct {
	river.WorkerDefaults[RedriveStuckPayoutsArgs]
	payouts   StuckPayoutLister
	enqueue   EnqueueTransferFunc
	olderThan time.Duration
	log       *slog.Logger
}

func NewRedriveWorker(payouts StuckPayoutLister, enqueue EnqueueTransferFunc, olderThan time.Duration, log *slog.Logger) *RedriveWorker {
	if log == nil {
		log = slog.Default()
	}
	return &RedriveWorker{payouts: payouts, enqueue: enqueue, olderThan: olderThan, log: log}
}

func (w *RedriveWorker) Work(ctx context.Context, _ *river.Job[RedriveStuckPayoutsArgs]) error {
	ids, err := w.payouts.StuckReserved(ctx, w.olderThan)
	if err != nil {
		return fmt.Errorf("list stuck payouts: %w", err)
	}
	for _, id := range ids {
		if err := w.enqueue(ctx, id); err != nil {
			return fmt.Errorf("re-enqueue transfer for payout %s: %w", id, err)
		}
		w.log.Info("re-driving stuck payout", "payout_id", id)
	}
	if len(ids) > 0 {
		w.log.Info("re-drive sweep complete", "payouts", len(ids))
	}
	return nil
}
