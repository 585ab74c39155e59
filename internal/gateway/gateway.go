package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Gateway is the payment gateway consumed by the settlement engine: deposit
// authorization, connected payee accounts, and fund transfers. Confirmations
// arrive asynchronously through the webhook endpoint, never through these
// calls.
type Gateway interface {
	AuthorizeDeposit(ctx context.Context, req AuthorizeDepositRequest) (*DepositAuthorization, error)
	CreatePayeeAccount(ctx context.Context, clipperID uuid.UUID, country string) (*PayeeAccountResult, error)
	GetPayeeAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type AuthorizeDepositRequest struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// DepositAuthorization is the synchronous half of a deposit: the reference
// identifies the charge at the gateway, the client token is handed to the
// creator's browser to complete confirmation.
type DepositAuthorization struct {
	Reference   string `json:"reference"`
	ClientToken string `json:"client_confirmation_token"`
}

type PayeeAccountResult struct {
	AccountID     string `json:"account_id"`
	OnboardingURL string `json:"onboarding_url"`
}

type AccountStatus struct {
	ChargesEnabled bool     `json:"charges_enabled"`
	PayoutsEnabled bool     `json:"payouts_enabled"`
	Requirements   []string `json:"requirements"`
}

type TransferRequest struct {
	AccountID   string            `json:"account_id"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// IdempotencyKey is sent as the Idempotency-Key header, not in the body.
	// The gateway executes at most one transfer per key, so a duplicate
	// submission of the same transfer is a no-op on its side.
	IdempotencyKey string `json:"-"`
}

type TransferResult struct {
	TransferID string `json:"transfer_id"`
}

// TransientError wraps network failures and gateway 5xx responses. Callers
// may retry with backoff; everything else is permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("gateway transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError is a permanent gateway-side denial (4xx). The operation must
// not be retried; any reserved funds are released.
type RejectedError struct {
	Status  int
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected (%d %s): %s", e.Status, e.Code, e.Message)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
