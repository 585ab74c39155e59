package models

import "encoding/json"

// Gateway event kinds delivered to the webhook endpoint.
const (
	EventDepositSucceeded  = "deposit.succeeded"
	EventDepositFailed     = "deposit.failed"
	EventPayeeUpdated      = "payee_account.updated"
	EventTransferSucceeded = "transfer.succeeded"
	EventTransferFailed    = "transfer.failed"
)

// GatewayEvent is the envelope of an asynchronous gateway notification.
// ID is assigned by the gateway and is the dedup key; delivery is
// at-least-once and unordered.
type GatewayEvent struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"data"`
}
