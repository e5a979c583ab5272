package engine

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// CreateSessionInput describes a new session.  Preregistrations are
// admitted in order through the normal submission rules.
type CreateSessionInput struct {
	Title            *string
	StartsAt         time.Time
	Timezone         string
	Capacity         int
	FeeCents         int64
	Preregistrations []SubmitInput
}

// PreregistrationResult is the outcome of one preregistration.
type PreregistrationResult struct {
	UserID         string              `json:"user_id"`
	State          string              `json:"state"`
	RegistrationID *string             `json:"registration_id,omitempty"`
	WaitlistPos    *int64              `json:"waitlist_pos,omitempty"`
	Error          *model.RequestError `json:"error,omitempty"`
}

// CreateSessionResult carries the new session and its preregistrations.
type CreateSessionResult struct {
	Session          model.SessionView       `json:"session"`
	Preregistrations []PreregistrationResult `json:"preregistrations"`
}

func (in CreateSessionInput) validate(now time.Time) error {
	if in.Capacity <= 0 {
		return model.Errorf(model.KindValidation, "capacity must be positive")
	}
	if in.FeeCents < 0 {
		return model.Errorf(model.KindValidation, "fee_cents must not be negative")
	}
	if in.StartsAt.IsZero() {
		return model.Errorf(model.KindValidation, "starts_at_utc is required")
	}
	if !in.StartsAt.After(now) {
		return model.Errorf(model.KindValidation, "starts_at_utc must be in the future")
	}
	if in.Timezone == "" {
		return model.Errorf(model.KindValidation, "timezone is required")
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return model.Errorf(model.KindValidation, "unknown timezone %q", in.Timezone)
	}
	return nil
}

// CreateSession creates a scheduled session.  Preregistration failures are
// reported per item and do not abort the creation.
func (e *Engine) CreateSession(ctx context.Context, in CreateSessionInput) (CreateSessionResult, error) {
	now := e.now()
	if err := in.validate(now); err != nil {
		return CreateSessionResult{}, err
	}
	s := model.Session{
		ID:        e.newID(),
		Title:     in.Title,
		StartsAt:  in.StartsAt.UTC(),
		Timezone:  in.Timezone,
		Capacity:  in.Capacity,
		FeeCents:  in.FeeCents,
		Status:    model.SessionScheduled,
		CreatedAt: now,
	}
	unlock, err := e.sessionLocks.Lock(ctx, s.ID)
	if err != nil {
		return CreateSessionResult{}, err
	}
	defer unlock()
	u := &unit{
		e:       e,
		st:      newSessionState(s),
		wt:      e.ledger.Begin(),
		changed: make(map[string]struct{}),
		dirty:   true,
	}
	defer u.release()
	users := make([]string, 0, len(in.Preregistrations))
	for _, p := range in.Preregistrations {
		if p.UserID != "" {
			users = append(users, p.UserID)
		}
	}
	if err := u.lockUsers(ctx, users...); err != nil {
		return CreateSessionResult{}, err
	}

	results := make([]PreregistrationResult, 0, len(in.Preregistrations))
	for _, p := range in.Preregistrations {
		p.SessionID = s.ID
		res := PreregistrationResult{UserID: p.UserID}
		valid, err := p.Validate()
		var r model.Registration
		if err == nil {
			r, err = u.submit(ctx, valid)
		}
		if err != nil {
			if model.KindOf(err) == "" {
				return CreateSessionResult{}, err
			}
			res.State = model.RequestRejected
			res.Error = &model.RequestError{Kind: string(model.KindOf(err)), Message: err.Error()}
		} else {
			id := r.ID
			res.State, res.RegistrationID, res.WaitlistPos = r.State, &id, r.WaitlistPos
		}
		results = append(results, res)
	}
	if err := u.commit(ctx); err != nil {
		return CreateSessionResult{}, err
	}
	return CreateSessionResult{Session: u.st.session.View(), Preregistrations: results}, nil
}

// PatchSessionInput carries the optional admin changes to a session.
type PatchSessionInput struct {
	Capacity *int
	Status   *string
}

// PatchSession changes capacity and/or status.  A capacity increase
// promotes from the waitlist.  Canceling force-cancels every active row
// with a full refund and is terminal.
func (e *Engine) PatchSession(ctx context.Context, id string, in PatchSessionInput) (model.SessionView, error) {
	u, err := e.beginSession(ctx, id)
	if err != nil {
		return model.SessionView{}, err
	}
	defer u.release()
	s := &u.st.session
	if s.Status == model.SessionCanceled {
		return model.SessionView{}, model.Errorf(model.KindInvalidState, "session is canceled")
	}
	if in.Capacity != nil {
		c := *in.Capacity
		if c <= 0 {
			return model.SessionView{}, model.Errorf(model.KindValidation, "capacity must be positive")
		}
		if c < s.ConfirmedSeats {
			return model.SessionView{}, model.Errorf(model.KindCapacityBelowConfirmed, "capacity %d is below %d confirmed seats", c, s.ConfirmedSeats)
		}
		grew := c > s.Capacity
		if c != s.Capacity {
			s.Capacity = c
			u.touch()
		}
		if grew {
			u.promote()
		}
	}
	if in.Status != nil && *in.Status != s.Status {
		switch *in.Status {
		case model.SessionClosed:
			s.Status = model.SessionClosed
			u.touch()
		case model.SessionScheduled:
			return model.SessionView{}, model.Errorf(model.KindInvalidState, "a %s session cannot be rescheduled", s.Status)
		case model.SessionCanceled:
			if err := u.cancelSession(ctx); err != nil {
				return model.SessionView{}, err
			}
		default:
			return model.SessionView{}, model.Errorf(model.KindValidation, "unknown status %q", *in.Status)
		}
	}
	if err := u.commit(ctx); err != nil {
		return model.SessionView{}, err
	}
	return u.st.session.View(), nil
}

func (u *unit) cancelSession(ctx context.Context) error {
	if err := u.lockUsers(ctx, u.st.activeUsers()...); err != nil {
		return err
	}
	for _, r := range u.st.rows() {
		if !r.Active() {
			continue
		}
		if _, _, err := u.cancelRow(r, false); err != nil {
			return err
		}
	}
	u.st.session.Status = model.SessionCanceled
	u.touch()
	return nil
}

// SettleResult summarises a settlement.
type SettleResult struct {
	SessionID     string    `json:"session_id"`
	CapturedCents int64     `json:"captured_cents"`
	ReleasedCents int64     `json:"released_cents"`
	Captured      int       `json:"captured_registrations"`
	Released      int       `json:"released_registrations"`
	SettledAt     time.Time `json:"settled_at"`
}

// Settle captures the holds of confirmed rows and releases the holds of
// rows still on the waitlist, which are canceled.  It is allowed once the
// cancellation lock window has begun and only once per session.
func (e *Engine) Settle(ctx context.Context, id string) (SettleResult, error) {
	u, err := e.beginSession(ctx, id)
	if err != nil {
		return SettleResult{}, err
	}
	defer u.release()
	s := &u.st.session
	now := e.now()
	switch {
	case s.Status == model.SessionCanceled:
		return SettleResult{}, model.Errorf(model.KindInvalidState, "session is canceled")
	case s.SettledAt != nil:
		return SettleResult{}, model.Errorf(model.KindInvalidState, "session was settled at %s", s.SettledAt.Format(time.RFC3339))
	case !e.locked(*s, now):
		return SettleResult{}, model.Errorf(model.KindInvalidState, "session cannot be settled before %s", s.StartsAt.Add(-e.policy.CancelLockWindow).Format(time.RFC3339))
	}
	if err := u.lockUsers(ctx, u.st.activeUsers()...); err != nil {
		return SettleResult{}, err
	}
	res := SettleResult{SessionID: s.ID, SettledAt: now}
	for _, r := range u.st.rows() {
		switch r.State {
		case model.RegConfirmed:
			if held, _ := u.wt.Held(r.ID); held > 0 {
				if _, err := u.wt.Capture(r.ID, held); err != nil {
					return SettleResult{}, err
				}
				res.CapturedCents += held
				res.Captured++
			}
		case model.RegWaitlisted:
			released, _, err := u.cancelRow(r, false)
			if err != nil {
				return SettleResult{}, err
			}
			res.ReleasedCents += released
			res.Released++
		}
	}
	s.SettledAt = &now
	if s.Status == model.SessionScheduled {
		s.Status = model.SessionClosed
	}
	u.touch()
	if err := u.commit(ctx); err != nil {
		return SettleResult{}, err
	}
	return res, nil
}

// SettleDue settles every session whose start time has passed.  Failures
// are logged and skipped so one session cannot hold up the others.
func (e *Engine) SettleDue(ctx context.Context) int {
	now := e.now()
	var due []string
	e.mu.RLock()
	for id, st := range e.sessions {
		s := st.session
		if s.Status != model.SessionCanceled && s.SettledAt == nil && !now.Before(s.StartsAt) {
			due = append(due, id)
		}
	}
	e.mu.RUnlock()
	n := 0
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := e.Settle(ctx, id); err != nil {
			log.Printf("engine: settle %s failed: %v", id, err)
			continue
		}
		n++
	}
	return n
}
