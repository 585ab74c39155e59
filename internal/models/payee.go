package models

import (
	"time"

	"github.com/google/uuid"
)

// PayeeAccount mirrors a clipper's connected account at the payment gateway.
// Status fields are written only by the webhook reconciler (and the on-demand
// refresh, which goes through the same path). Never deleted while any payout
// references the clipper.
type PayeeAccount struct {
	ClipperID        uuid.UUID `json:"clipper_id"`
	GatewayAccountID string    `json:"gateway_account_id"`
	ChargesEnabled   bool      `json:"charges_enabled"`
	PayoutsEnabled   bool      `json:"payouts_enabled"`
	Requirements     []string  `json:"outstanding_requirements"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
