package models

import (
	"time"

	"github.com/google/uuid"
)

// DepositIntent statuses. Intents are immutable once terminal.
const (
	DepositStatusCreated   = "created"
	DepositStatusSucceeded = "succeeded"
	DepositStatusFailed    = "failed"
)

// DepositIntent is one funding attempt. The creator is charged GrossCents
// (requested + commission); the wallet is credited NetCreditCents only after
// the gateway confirms the charge.
type DepositIntent struct {
	ID               uuid.UUID `json:"id"`
	CreatorID        uuid.UUID `json:"creator_id"`
	RequestedCents   int64     `json:"requested_cents"`
	GrossCents       int64     `json:"gross_cents"`
	CommissionCents  int64     `json:"commission_cents"`
	NetCreditCents   int64     `json:"net_credit_cents"`
	Status           string    `json:"status"`
	GatewayReference string    `json:"gateway_reference,omitempty"`
	FailureReason    *string   `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Terminal reports whether the intent has reached a final state.
func (d *DepositIntent) Terminal() bool {
	return d.Status == DepositStatusSucceeded || d.Status == DepositStatusFailed
}
