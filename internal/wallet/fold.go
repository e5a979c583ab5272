package wallet

import "github.com/iliyamo/badminton-sessions/internal/model"

// account is the folded balance of one user.
type account struct {
	posted int64
	held   int64
}

// hold is the folded state of the funds tied to one registration.
type hold struct {
	userID    string
	sessionID string
	held      int64
	captured  int64
}

// fold applies a single entry to the account and hold it belongs to.  It
// is the only place where balance arithmetic lives: the incremental cache,
// staged transactions and full recomputes all go through it, which is what
// keeps them equal.
func fold(acc account, h hold, e model.LedgerEntry) (account, hold, error) {
	amt := e.Magnitude()
	switch e.Kind {
	case model.EntryDeposit:
		acc.posted += amt
	case model.EntryAdminWithdrawal:
		acc.posted -= amt
	case model.EntryFeeHold:
		h.held += amt
		acc.held += amt
	case model.EntryHoldRelease:
		if amt > h.held {
			return acc, h, model.Errorf(model.KindNoActiveHold, "release of %d exceeds held %d", amt, h.held)
		}
		h.held -= amt
		acc.held -= amt
	case model.EntryFeeCapture:
		if amt > h.held {
			return acc, h, model.Errorf(model.KindNoActiveHold, "capture of %d exceeds held %d", amt, h.held)
		}
		h.held -= amt
		acc.held -= amt
		h.captured += amt
		acc.posted -= amt
	case model.EntryRefund:
		x := min(amt, h.held)
		h.held -= x
		acc.held -= x
		rest := amt - x
		if rest > h.captured {
			return acc, h, model.Errorf(model.KindNoActiveHold, "refund of %d exceeds held and captured funds", amt)
		}
		h.captured -= rest
		acc.posted += rest
	case model.EntryPenalty:
		x := min(amt, h.held)
		h.held -= x
		acc.held -= x
		acc.posted -= x
		rest := amt - x
		if rest > h.captured {
			return acc, h, model.Errorf(model.KindNoActiveHold, "penalty of %d exceeds held and captured funds", amt)
		}
		h.captured -= rest
	default:
		return acc, h, model.Errorf(model.KindValidation, "unknown ledger entry kind %q", e.Kind)
	}
	return acc, h, nil
}

func (a account) balance() model.Balance {
	return model.Balance{
		PostedCents:    a.posted,
		HoldsCents:     a.held,
		AvailableCents: a.posted - a.held,
	}
}
