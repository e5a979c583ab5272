// Package wallet implements the append-only wallet ledger.  Balances are
// never stored: they are folded from the entries, either incrementally as
// entries are applied or from scratch by Recompute.
package wallet

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// Ledger holds every entry in append order plus the folded projections.
// Writers stage entries in a Txn and call Apply once the entries are
// durable; Apply is the only mutation of the projections.
type Ledger struct {
	mu       sync.RWMutex
	entries  []model.LedgerEntry
	byUser   map[string][]int
	accounts map[string]account
	holds    map[string]hold
	keys     map[string]model.LedgerEntry
	nextID   atomic.Int64
	now      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used to timestamp entries.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger returns an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		byUser:   make(map[string][]int),
		accounts: make(map[string]account),
		holds:    make(map[string]hold),
		keys:     make(map[string]model.LedgerEntry),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Restore rebuilds the ledger from persisted entries.  It must be called
// before the ledger is shared.
func (l *Ledger) Restore(entries []model.LedgerEntry) error {
	sorted := append([]model.LedgerEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range sorted {
		if err := l.applyLocked(e); err != nil {
			return err
		}
		if e.ID > l.nextID.Load() {
			l.nextID.Store(e.ID)
		}
	}
	return nil
}

// Apply appends the staged entries of t and publishes its projections.
// The caller must have made the entries durable first.
func (l *Ledger) Apply(t *Txn) {
	if t == nil || len(t.entries) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range t.entries {
		l.push(e)
	}
	for u, a := range t.accounts {
		l.accounts[u] = a
	}
	for r, h := range t.holds {
		l.holds[r] = h
	}
	for k, e := range t.keys {
		l.keys[k] = e
	}
}

func (l *Ledger) applyLocked(e model.LedgerEntry) error {
	var h hold
	if e.RegistrationID != nil {
		h = l.holds[*e.RegistrationID]
		h.userID = e.UserID
		if e.SessionID != nil {
			h.sessionID = *e.SessionID
		}
	}
	acc, h, err := fold(l.accounts[e.UserID], h, e)
	if err != nil {
		return err
	}
	l.accounts[e.UserID] = acc
	if e.RegistrationID != nil {
		l.holds[*e.RegistrationID] = h
	}
	if e.IdempotencyKey != nil {
		l.keys[scopedKey(e.Kind, e.UserID, *e.IdempotencyKey)] = e
	}
	l.push(e)
	return nil
}

func (l *Ledger) push(e model.LedgerEntry) {
	l.entries = append(l.entries, e)
	l.byUser[e.UserID] = append(l.byUser[e.UserID], len(l.entries)-1)
}

// Balance returns the cached projection for user.
func (l *Ledger) Balance(user string) model.Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[user].balance()
}

// Recompute folds every entry of user from scratch.  It always matches
// Balance; tests and consistency checks rely on that.
func (l *Ledger) Recompute(user string) (model.Balance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var acc account
	holds := make(map[string]hold)
	for _, i := range l.byUser[user] {
		e := l.entries[i]
		var h hold
		if e.RegistrationID != nil {
			h = holds[*e.RegistrationID]
		}
		var err error
		acc, h, err = fold(acc, h, e)
		if err != nil {
			return model.Balance{}, err
		}
		if e.RegistrationID != nil {
			holds[*e.RegistrationID] = h
		}
	}
	return acc.balance(), nil
}

// Entries returns up to limit entries of user, newest first.  When
// beforeID is positive only entries with a smaller id are returned.
func (l *Ledger) Entries(user string, limit int, beforeID int64) []model.LedgerEntry {
	if limit <= 0 {
		limit = 50
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx := l.byUser[user]
	out := make([]model.LedgerEntry, 0, min(limit, len(idx)))
	for i := len(idx) - 1; i >= 0 && len(out) < limit; i-- {
		e := l.entries[idx[i]]
		if beforeID > 0 && e.ID >= beforeID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// EntriesForRegistration returns the entries referencing regID in append
// order.
func (l *Ledger) EntriesForRegistration(regID string) []model.LedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.holds[regID]
	if !ok {
		return nil
	}
	var out []model.LedgerEntry
	for _, i := range l.byUser[h.userID] {
		e := l.entries[i]
		if e.RegistrationID != nil && *e.RegistrationID == regID {
			out = append(out, e)
		}
	}
	return out
}

// scopedKey matches the (user_id, kind, idempotency_key) unique key of the
// ledger table.
func scopedKey(kind, user, key string) string { return kind + "\x00" + user + "\x00" + key }
