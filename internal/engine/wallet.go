package engine

import (
	"context"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// Deposit credits user.  The key makes the deposit idempotent across
// restarts: a second call returns the entry of the first.
func (e *Engine) Deposit(ctx context.Context, user string, amount int64, key string) (model.LedgerEntry, error) {
	return e.posting(ctx, user, func(u *unit) (model.LedgerEntry, error) { return u.wt.Deposit(user, amount, key) })
}

// Withdraw debits the available balance of user.
func (e *Engine) Withdraw(ctx context.Context, user string, amount int64, key string) (model.LedgerEntry, error) {
	return e.posting(ctx, user, func(u *unit) (model.LedgerEntry, error) { return u.wt.Withdraw(user, amount, key) })
}

func (e *Engine) posting(ctx context.Context, user string, stage func(*unit) (model.LedgerEntry, error)) (model.LedgerEntry, error) {
	if user == "" {
		return model.LedgerEntry{}, model.Errorf(model.KindValidation, "user id is required")
	}
	u, err := e.beginWallet(ctx, user)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	defer u.release()
	entry, err := stage(u)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if err := u.commit(ctx); err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

// Balance returns the folded balance of user.
func (e *Engine) Balance(user string) model.Balance { return e.ledger.Balance(user) }

// RecomputeBalance folds the balance of user from scratch.
func (e *Engine) RecomputeBalance(user string) (model.Balance, error) { return e.ledger.Recompute(user) }

// Ledger returns a page of the entries of user, newest first.
func (e *Engine) Ledger(user string, limit int, beforeID int64) []model.LedgerEntry {
	return e.ledger.Entries(user, limit, beforeID)
}

// RegistrationEntries returns the ledger entries tied to one row.
func (e *Engine) RegistrationEntries(regID string) []model.LedgerEntry {
	return e.ledger.EntriesForRegistration(regID)
}
