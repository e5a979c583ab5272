package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/iliyamo/badminton-sessions/internal/journal"
	"github.com/iliyamo/badminton-sessions/internal/model"
	"github.com/iliyamo/badminton-sessions/internal/wallet"
)

// unit is one atomic change.  It owns the session lock (and any user
// locks taken after it), a working copy of the session state and a wallet
// staging transaction.  Nothing becomes visible until commit.
type unit struct {
	e        *Engine
	st       *sessionState
	wt       *wallet.Txn
	dirty    bool
	changed  map[string]struct{}
	promoted []string
	requests []model.Request
	held     map[string]struct{}
	unlocks  []func()
}

// beginSession locks sessionID and stages a copy of its state.
func (e *Engine) beginSession(ctx context.Context, sessionID string) (*unit, error) {
	unlock, err := e.sessionLocks.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	st, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		unlock()
		return nil, model.Errorf(model.KindNotFound, "session %s not found", sessionID)
	}
	return &unit{
		e:       e,
		st:      st.clone(),
		wt:      e.ledger.Begin(),
		changed: make(map[string]struct{}),
		unlocks: []func(){unlock},
	}, nil
}

// beginWallet stages a wallet-only change for user.
func (e *Engine) beginWallet(ctx context.Context, user string) (*unit, error) {
	unlock, err := e.userLocks.Lock(ctx, user)
	if err != nil {
		return nil, err
	}
	return &unit{
		e:       e,
		wt:      e.ledger.Begin(),
		changed: make(map[string]struct{}),
		held:    map[string]struct{}{user: {}},
		unlocks: []func(){unlock},
	}, nil
}

// lockUsers takes the wallet locks of users not already held by the
// unit.  It is always called after the session lock so that the lock
// order is session then user.
func (u *unit) lockUsers(ctx context.Context, users ...string) error {
	if u.held == nil {
		u.held = make(map[string]struct{})
	}
	var need []string
	for _, id := range users {
		if _, ok := u.held[id]; !ok {
			need = append(need, id)
		}
	}
	if len(need) == 0 {
		return nil
	}
	unlock, err := u.e.userLocks.LockAll(ctx, need...)
	if err != nil {
		return err
	}
	for _, id := range need {
		u.held[id] = struct{}{}
	}
	u.unlocks = append(u.unlocks, unlock)
	return nil
}

func (u *unit) release() {
	for i := len(u.unlocks) - 1; i >= 0; i-- {
		u.unlocks[i]()
	}
	u.unlocks = nil
}

func (u *unit) reg(id string) (model.Registration, error) {
	r, ok := u.st.regs[id]
	if !ok {
		return model.Registration{}, model.Errorf(model.KindNotFound, "registration %s not found", id)
	}
	return r.Clone(), nil
}

func (u *unit) put(r model.Registration) {
	u.st.regs[r.ID] = r
	u.changed[r.ID] = struct{}{}
}

func (u *unit) touch() { u.dirty = true }

// promote confirms waitlisted rows in position order while they fit.  It
// stops at the first row that does not fit and never touches holds.
func (u *unit) promote() {
	s := &u.st.session
	if s.Status == model.SessionCanceled || s.SettledAt != nil {
		return
	}
	for _, r := range u.st.waitlist() {
		if s.Capacity-s.ConfirmedSeats < r.Seats {
			return
		}
		r = r.Clone()
		r.State = model.RegConfirmed
		r.WaitlistPos = nil
		s.ConfirmedSeats += r.Seats
		u.put(r)
		u.touch()
		u.promoted = append(u.promoted, r.ID)
	}
}

func (u *unit) batch() *journal.Batch {
	b := &journal.Batch{Entries: u.wt.Entries(), Requests: u.requests}
	if u.st == nil {
		return b
	}
	if u.dirty {
		b.Sessions = []model.Session{u.st.session}
	}
	for id := range u.changed {
		b.Registrations = append(b.Registrations, u.st.regs[id])
	}
	sort.Slice(b.Registrations, func(i, j int) bool {
		return b.Registrations[i].CreatedAt.Before(b.Registrations[j].CreatedAt)
	})
	return b
}

// commit makes the unit durable and then publishes it.  On error the
// in-memory state is untouched.
func (u *unit) commit(ctx context.Context) error {
	b := u.batch()
	if b.Empty() {
		return nil
	}
	if err := u.e.journal.Commit(ctx, b); err != nil {
		return fmt.Errorf("engine: commit: %w", err)
	}
	u.e.ledger.Apply(u.wt)
	if u.st == nil {
		return nil
	}
	sid := u.st.session.ID
	u.e.mu.Lock()
	u.e.sessions[sid] = u.st
	for id := range u.changed {
		u.e.regSession[id] = sid
	}
	for _, q := range u.requests {
		if q.RegistrationID != nil {
			u.e.regRequest[*q.RegistrationID] = q.ID
		}
	}
	var touched []string
	for _, id := range u.promoted {
		if rid, ok := u.e.regRequest[id]; ok {
			touched = append(touched, rid)
		}
	}
	u.e.mu.Unlock()

	u.e.notify.SessionChanged(sid)
	for _, rid := range touched {
		u.e.notify.RequestChanged(rid)
	}
	return nil
}
