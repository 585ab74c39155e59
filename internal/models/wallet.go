package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a creator's prepaid mission budget in minor currency units.
// One row per creator, created lazily on the first deposit attempt and never
// deleted. Both balances must stay >= 0; every mutation is a guarded UPDATE.
type Wallet struct {
	CreatorID      uuid.UUID `json:"creator_id"`
	AvailableCents int64     `json:"available_cents"`
	ReservedCents  int64     `json:"reserved_cents"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
