// Package engine implements the registration and waitlist engine: session
// capacity, admission, FIFO promotion, guest management, cancellation
// policy and settlement, all coordinated with the wallet ledger.
//
// Every mutation runs as one unit under the session lock followed by the
// wallet locks it needs.  A unit stages its rows and ledger entries,
// commits them to the journal in one write and only then replaces the
// in-memory snapshot, so readers never observe a half applied change.
package engine

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/badminton-sessions/internal/journal"
	"github.com/iliyamo/badminton-sessions/internal/lock"
	"github.com/iliyamo/badminton-sessions/internal/model"
	"github.com/iliyamo/badminton-sessions/internal/wallet"
)

// Notifier receives invalidation signals after a unit commits.
type Notifier interface {
	SessionChanged(sessionID string)
	RequestChanged(requestID string)
}

type nopNotifier struct{}

func (nopNotifier) SessionChanged(string) {}
func (nopNotifier) RequestChanged(string) {}

// Policy holds the cancellation and refund rules.
type Policy struct {
	// CancelLockWindow is how long before start cancellations and seat
	// decreases are refused, and from when a session may be settled.
	CancelLockWindow time.Duration
	// SameDayPenaltyPercent is the share kept as penalty when a row is
	// canceled on the session's local calendar day.
	SameDayPenaltyPercent int64
}

// DefaultPolicy is one hour lock window and a 50/50 same day split.
var DefaultPolicy = Policy{CancelLockWindow: time.Hour, SameDayPenaltyPercent: 50}

// Config tunes an Engine.
type Config struct {
	LockTimeout time.Duration
	Policy      Policy
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notify = n } }

// WithIDs replaces the id generator.
func WithIDs(gen func() string) Option { return func(e *Engine) { e.newID = gen } }

// Engine is safe for concurrent use.
type Engine struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionState
	regSession map[string]string // registration id -> session id
	regRequest map[string]string // registration id -> request that created it

	ledger       *wallet.Ledger
	journal      journal.Journal
	notify       Notifier
	sessionLocks *lock.Keyed
	userLocks    *lock.Keyed
	policy       Policy
	now          func() time.Time
	newID        func() string
}

// New builds an engine writing through j.
func New(j journal.Journal, cfg Config, opts ...Option) *Engine {
	if j == nil {
		j = journal.Nop{}
	}
	if cfg.Policy.CancelLockWindow <= 0 {
		cfg.Policy.CancelLockWindow = DefaultPolicy.CancelLockWindow
	}
	if cfg.Policy.SameDayPenaltyPercent <= 0 || cfg.Policy.SameDayPenaltyPercent > 100 {
		cfg.Policy.SameDayPenaltyPercent = DefaultPolicy.SameDayPenaltyPercent
	}
	e := &Engine{
		sessions:     make(map[string]*sessionState),
		regSession:   make(map[string]string),
		regRequest:   make(map[string]string),
		journal:      j,
		notify:       nopNotifier{},
		sessionLocks: lock.NewKeyed("session", cfg.LockTimeout),
		userLocks:    lock.NewKeyed("wallet", cfg.LockTimeout),
		policy:       cfg.Policy,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	e.ledger = wallet.NewLedger(wallet.WithClock(e.now))
	return e
}

// Policy returns the active cancellation policy.
func (e *Engine) Policy() Policy { return e.policy }

// Restore loads a snapshot into an empty engine.  Confirmed seat counters
// are recomputed from the rows; a mismatch is logged and the rows win.
func (e *Engine) Restore(snap *journal.Snapshot) error {
	if snap == nil {
		return nil
	}
	if err := e.ledger.Restore(snap.Entries); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range snap.Sessions {
		e.sessions[s.ID] = newSessionState(s)
	}
	for _, r := range snap.Registrations {
		st, ok := e.sessions[r.SessionID]
		if !ok {
			log.Printf("engine: restore: registration %s references unknown session %s", r.ID, r.SessionID)
			continue
		}
		st.regs[r.ID] = r.Clone()
		e.regSession[r.ID] = r.SessionID
	}
	for _, q := range snap.Requests {
		if q.RegistrationID != nil {
			e.regRequest[*q.RegistrationID] = q.ID
		}
	}
	for id, st := range e.sessions {
		if n := st.countConfirmed(); n != st.session.ConfirmedSeats {
			log.Printf("engine: restore: session %s confirmed_seats %d, rows say %d", id, st.session.ConfirmedSeats, n)
			st.session.ConfirmedSeats = n
		}
	}
	return nil
}

func (e *Engine) state(sessionID string) (*sessionState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st, ok := e.sessions[sessionID]
	return st, ok
}

// GetSession returns one session with its derived counters.
func (e *Engine) GetSession(id string) (model.SessionView, error) {
	st, ok := e.state(id)
	if !ok {
		return model.SessionView{}, model.Errorf(model.KindNotFound, "session %s not found", id)
	}
	return st.session.View(), nil
}

// ListSessions returns every session ordered by start time.
func (e *Engine) ListSessions() []model.SessionView {
	e.mu.RLock()
	out := make([]model.SessionView, 0, len(e.sessions))
	for _, st := range e.sessions {
		out = append(out, st.session.View())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SessionRegistrations lists the rows of a session.
func (e *Engine) SessionRegistrations(sessionID string) ([]model.Registration, error) {
	st, ok := e.state(sessionID)
	if !ok {
		return nil, model.Errorf(model.KindNotFound, "session %s not found", sessionID)
	}
	return st.rows(), nil
}

// Registration returns one row by id.
func (e *Engine) Registration(id string) (model.Registration, error) {
	e.mu.RLock()
	sid, ok := e.regSession[id]
	var st *sessionState
	if ok {
		st = e.sessions[sid]
	}
	e.mu.RUnlock()
	if st == nil {
		return model.Registration{}, model.Errorf(model.KindNotFound, "registration %s not found", id)
	}
	r, ok := st.regs[id]
	if !ok {
		return model.Registration{}, model.Errorf(model.KindNotFound, "registration %s not found", id)
	}
	return r.Clone(), nil
}

// UserRegistrations returns every row billed to user, newest first.
func (e *Engine) UserRegistrations(userID string) []model.Registration {
	e.mu.RLock()
	var out []model.Registration
	for _, st := range e.sessions {
		for _, r := range st.regs {
			if r.HostUserID == userID {
				out = append(out, r.Clone())
			}
		}
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (e *Engine) sessionOf(regID string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sid, ok := e.regSession[regID]
	if !ok {
		return "", model.Errorf(model.KindNotFound, "registration %s not found", regID)
	}
	return sid, nil
}

// locked reports whether now falls inside the cancellation lock window.
func (e *Engine) locked(s model.Session, now time.Time) bool {
	return !now.Before(s.StartsAt.Add(-e.policy.CancelLockWindow))
}

// sameDay reports whether now is on or after local midnight of the
// session's calendar date in the session timezone.
func sameDay(s model.Session, now time.Time) bool {
	loc := s.Location()
	start := s.StartsAt.In(loc)
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	return !now.Before(midnight)
}

func canModify(actor model.Actor, r model.Registration) error {
	if actor.IsAdmin() || actor.UserID == r.HostUserID {
		return nil
	}
	return model.Errorf(model.KindForbidden, "registration %s belongs to another user", r.ID)
}
