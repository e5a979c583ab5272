package wallet

import (
	"github.com/iliyamo/badminton-sessions/internal/model"
)

// Txn stages ledger entries against a private copy of the touched
// accounts.  Nothing is visible to readers until Ledger.Apply.  A Txn is
// not safe for concurrent use; callers serialise per user with the user
// lock before staging.
type Txn struct {
	l        *Ledger
	accounts map[string]account
	holds    map[string]hold
	keys     map[string]model.LedgerEntry
	entries  []model.LedgerEntry
}

// Begin starts a new staging transaction.
func (l *Ledger) Begin() *Txn {
	return &Txn{
		l:        l,
		accounts: make(map[string]account),
		holds:    make(map[string]hold),
		keys:     make(map[string]model.LedgerEntry),
	}
}

// Entries returns the entries staged so far.
func (t *Txn) Entries() []model.LedgerEntry { return t.entries }

func (t *Txn) account(user string) account {
	if a, ok := t.accounts[user]; ok {
		return a
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	return t.l.accounts[user]
}

func (t *Txn) hold(regID string) (hold, bool) {
	if h, ok := t.holds[regID]; ok {
		return h, true
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	h, ok := t.l.holds[regID]
	return h, ok
}

func (t *Txn) priorKey(kind, user, key string) (model.LedgerEntry, bool) {
	k := scopedKey(kind, user, key)
	if e, ok := t.keys[k]; ok {
		return e, true
	}
	t.l.mu.RLock()
	defer t.l.mu.RUnlock()
	e, ok := t.l.keys[k]
	return e, ok
}

// Balance returns the staged balance of user.
func (t *Txn) Balance(user string) model.Balance { return t.account(user).balance() }

// Held returns the held and captured amounts tied to regID.
func (t *Txn) Held(regID string) (held, captured int64) {
	h, _ := t.hold(regID)
	return h.held, h.captured
}

func (t *Txn) append(e model.LedgerEntry, h hold) (model.LedgerEntry, error) {
	acc, nh, err := fold(t.account(e.UserID), h, e)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	e.ID = t.l.nextID.Add(1)
	e.CreatedAt = t.l.now()
	t.accounts[e.UserID] = acc
	if e.RegistrationID != nil {
		t.holds[*e.RegistrationID] = nh
	}
	if e.IdempotencyKey != nil {
		t.keys[scopedKey(e.Kind, e.UserID, *e.IdempotencyKey)] = e
	}
	t.entries = append(t.entries, e)
	return e, nil
}

// Deposit credits amount to user.  A repeated key returns the entry the
// key produced the first time; reusing it for another amount is an
// IdempotencyKeyReuse.  Keys are scoped per user and entry kind.
func (t *Txn) Deposit(user string, amount int64, key string) (model.LedgerEntry, error) {
	return t.posting(model.EntryDeposit, user, amount, key)
}

// Withdraw debits amount from the available balance of user.
func (t *Txn) Withdraw(user string, amount int64, key string) (model.LedgerEntry, error) {
	return t.posting(model.EntryAdminWithdrawal, user, amount, key)
}

func (t *Txn) posting(kind, user string, amount int64, key string) (model.LedgerEntry, error) {
	if amount <= 0 {
		return model.LedgerEntry{}, model.Errorf(model.KindInvalidAmount, "amount must be positive, got %d", amount)
	}
	if key != "" {
		if prior, ok := t.priorKey(kind, user, key); ok {
			if prior.Magnitude() != amount {
				return model.LedgerEntry{}, model.Errorf(model.KindIdempotencyKeyReuse,
					"key %q already used for a %s of %d", key, kind, prior.Magnitude())
			}
			return prior, nil
		}
	}
	e := model.LedgerEntry{UserID: user, Kind: kind, AmountCents: amount}
	if kind == model.EntryAdminWithdrawal {
		if avail := t.Balance(user).AvailableCents; avail < amount {
			return model.LedgerEntry{}, model.Errorf(model.KindInsufficientFunds, "available %d < %d", avail, amount)
		}
		e.AmountCents = -amount
	}
	if key != "" {
		k := key
		e.IdempotencyKey = &k
	}
	return t.append(e, hold{})
}

// PlaceHold encumbers amount of the available balance of user for the
// registration.  The availability check and the staging happen under the
// caller's user lock.
func (t *Txn) PlaceHold(user string, amount int64, sessionID, regID string) (model.LedgerEntry, error) {
	if amount <= 0 {
		return model.LedgerEntry{}, model.Errorf(model.KindInvalidAmount, "hold amount must be positive, got %d", amount)
	}
	h, ok := t.hold(regID)
	if ok && h.userID != user {
		return model.LedgerEntry{}, model.Errorf(model.KindValidation, "registration %s is billed to another wallet", regID)
	}
	if avail := t.Balance(user).AvailableCents; avail < amount {
		return model.LedgerEntry{}, model.Errorf(model.KindInsufficientFunds, "available %d < required %d", avail, amount)
	}
	h.userID, h.sessionID = user, sessionID
	return t.append(entryFor(h, regID, model.EntryFeeHold, -amount), h)
}

// ReleaseHold reverses whatever is still held for regID.  Releasing an
// already released hold is a no-op and returns 0.
func (t *Txn) ReleaseHold(regID string) (int64, error) {
	h, ok := t.hold(regID)
	if !ok || h.held == 0 {
		return 0, nil
	}
	return t.ReleaseHoldAmount(regID, h.held)
}

// ReleaseHoldAmount releases part of the hold of regID.
func (t *Txn) ReleaseHoldAmount(regID string, amount int64) (int64, error) {
	if amount == 0 {
		return 0, nil
	}
	h, ok := t.hold(regID)
	if !ok || h.held < amount {
		return 0, model.Errorf(model.KindNoActiveHold, "no active hold of %d for registration %s", amount, regID)
	}
	if _, err := t.append(entryFor(h, regID, model.EntryHoldRelease, amount), h); err != nil {
		return 0, err
	}
	return amount, nil
}

// Capture converts amount of the hold of regID into a realised fee.
func (t *Txn) Capture(regID string, amount int64) (model.LedgerEntry, error) {
	h, ok := t.hold(regID)
	if !ok || amount <= 0 || h.held < amount {
		return model.LedgerEntry{}, model.Errorf(model.KindNoActiveHold, "no active hold to capture for registration %s", regID)
	}
	return t.append(entryFor(h, regID, model.EntryFeeCapture, -amount), h)
}

// Refund returns amount of the held or captured funds of regID to the
// wallet.
func (t *Txn) Refund(regID string, amount int64) (int64, error) {
	return t.settle(regID, model.EntryRefund, amount)
}

// Penalize keeps amount of the held or captured funds of regID as a
// cancellation penalty.
func (t *Txn) Penalize(regID string, amount int64) (int64, error) {
	return t.settle(regID, model.EntryPenalty, -amount)
}

func (t *Txn) settle(regID, kind string, signed int64) (int64, error) {
	if signed == 0 {
		return 0, nil
	}
	h, ok := t.hold(regID)
	if !ok {
		return 0, model.Errorf(model.KindNoActiveHold, "no funds tied to registration %s", regID)
	}
	e, err := t.append(entryFor(h, regID, kind, signed), h)
	if err != nil {
		return 0, err
	}
	return e.Magnitude(), nil
}

func entryFor(h hold, regID, kind string, amount int64) model.LedgerEntry {
	r := regID
	e := model.LedgerEntry{UserID: h.userID, Kind: kind, AmountCents: amount, RegistrationID: &r}
	if h.sessionID != "" {
		s := h.sessionID
		e.SessionID = &s
	}
	return e
}
