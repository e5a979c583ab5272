package model

import "time"

// Ledger entry kinds.
const (
	EntryDeposit         = "deposit_in"
	EntryFeeHold         = "fee_hold"
	EntryHoldRelease     = "hold_release"
	EntryFeeCapture      = "fee_capture"
	EntryRefund          = "refund"
	EntryPenalty         = "penalty"
	EntryAdminWithdrawal = "admin_withdrawal"
)

// LedgerEntry is one append-only wallet movement.  AmountCents is signed
// from the wallet holder's point of view: credits are positive, debits and
// encumbrances negative.
type LedgerEntry struct {
	ID             int64     `json:"id"`
	UserID         string    `json:"user_id"`
	Kind           string    `json:"kind"`
	AmountCents    int64     `json:"amount_cents"`
	SessionID      *string   `json:"session_id"`
	RegistrationID *string   `json:"registration_id"`
	IdempotencyKey *string   `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Magnitude returns the absolute amount of the entry.
func (e LedgerEntry) Magnitude() int64 {
	if e.AmountCents < 0 {
		return -e.AmountCents
	}
	return e.AmountCents
}

// Balance is the derived wallet summary of one user.
type Balance struct {
	PostedCents    int64 `json:"posted_cents"`
	HoldsCents     int64 `json:"holds_cents"`
	AvailableCents int64 `json:"available_cents"`
}
