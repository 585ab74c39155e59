package models

import (
	"time"

	"github.com/google/uuid"
)

// Payout statuses. pending -> reserved -> transferring -> succeeded|failed,
// with reserved|transferring -> reversed when the reservation is undone.
// A partial unique index on (submission_id) over non-terminal rows enforces
// at most one in-flight payout per submission.
const (
	PayoutStatusPending      = "pending"
	PayoutStatusReserved     = "reserved"
	PayoutStatusTransferring = "transferring"
	PayoutStatusSucceeded    = "succeeded"
	PayoutStatusFailed       = "failed"
	PayoutStatusReversed     = "reversed"
)

// Payout is one milestone payment to a clipper, funded from the creator's
// wallet. Rows are never deleted; they are the financial audit trail.
type Payout struct {
	ID                uuid.UUID  `json:"id"`
	SubmissionID      uuid.UUID  `json:"submission_id"`
	ClipperID         uuid.UUID  `json:"clipper_id"`
	CreatorID         uuid.UUID  `json:"creator_id"`
	GrossCents        int64      `json:"gross_cents"`
	CommissionCents   int64      `json:"commission_cents"`
	NetCents          int64      `json:"net_cents"`
	Status            string     `json:"status"`
	GatewayTransferID *string    `json:"gateway_transfer_id,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the payout has reached a final state.
func (p *Payout) Terminal() bool {
	switch p.Status {
	case PayoutStatusSucceeded, PayoutStatusFailed, PayoutStatusReversed:
		return true
	}
	return false
}
