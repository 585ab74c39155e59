package commission

import (
	"errors"
	"fmt"
)

// ErrInvalidAmount is returned when an amount is outside the configured
// bounds. Rejected before any I/O happens.
var ErrInvalidAmount = errors.New("invalid amount")

// DepositSplit is the money breakdown of a wallet funding attempt. The
// commission is added on top: the creator is charged GrossCents and the
// wallet is credited exactly NetCreditCents (== the requested amount).
type DepositSplit struct {
	GrossCents      int64
	CommissionCents int64
	NetCreditCents  int64
}

// PayoutSplit is the money breakdown of a clipper payout. The commission is
// deducted from the gross, so the clipper receives NetCents.
type PayoutSplit struct {
	CommissionCents int64
	NetCents        int64
}

// Calculator computes commission splits. Pure and stateless: all amounts are
// integers in minor currency units, commission rate is in basis points, and
// rounding is half-up. No floating point anywhere.
type Calculator struct {
	RateBps         int64
	MinDepositCents int64
	MaxDepositCents int64
	MaxPayoutCents  int64
}

// SplitForDeposit computes the charge for funding requestedCents of budget.
// gross = requested + commission; the wallet credit is the requested amount.
func (c Calculator) SplitForDeposit(requestedCents int64) (DepositSplit, error) {
	if requestedCents < c.MinDepositCents || requestedCents > c.MaxDepositCents {
		return DepositSplit{}, fmt.Errorf("%w: deposit of %d outside [%d, %d]",
			ErrInvalidAmount, requestedCents, c.MinDepositCents, c.MaxDepositCents)
	}
	fee := roundHalfUpBps(requestedCents, c.RateBps)
	return DepositSplit{
		GrossCents:      requestedCents + fee,
		CommissionCents: fee,
		NetCreditCents:  requestedCents,
	}, nil
}

// SplitForPayout computes the clipper's net for a gross milestone amount.
func (c Calculator) SplitForPayout(grossCents int64) (PayoutSplit, error) {
	if grossCents <= 0 || grossCents > c.MaxPayoutCents {
		return PayoutSplit{}, fmt.Errorf("%w: payout of %d outside (0, %d]",
			ErrInvalidAmount, grossCents, c.MaxPayoutCents)
	}
	fee := roundHalfUpBps(grossCents, c.RateBps)
	return PayoutSplit{
		CommissionCents: fee,
		NetCents:        grossCents - fee,
	}, nil
}

// roundHalfUpBps returns amount * bps / 10000 rounded half-up.
// Amounts are non-negative at every call site.
func roundHalfUpBps(amount, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}
