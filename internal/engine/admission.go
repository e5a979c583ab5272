package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// MaxGuestNameLen bounds a guest name in characters.
const MaxGuestNameLen = 64

// SubmitInput is a seat request for one host and up to two guests.
type SubmitInput struct {
	SessionID  string
	UserID     string
	UserName   string
	Seats      int
	GuestNames []string
}

func normalizeName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", model.Errorf(model.KindValidation, "guest name must not be empty")
	}
	if utf8.RuneCountInString(n) > MaxGuestNameLen {
		return "", model.Errorf(model.KindValidation, "guest name longer than %d characters", MaxGuestNameLen)
	}
	return n, nil
}

func normalizeGuests(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		n, err := normalizeName(name)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Validate checks the shape of a submission without touching any state.
// It returns the input with trimmed guest names.
func (in SubmitInput) Validate() (SubmitInput, error) {
	if in.SessionID == "" {
		return in, model.Errorf(model.KindValidation, "session id is required")
	}
	if in.UserID == "" {
		return in, model.Errorf(model.KindValidation, "user id is required")
	}
	if in.Seats < 1 || in.Seats > model.MaxGroupSeats {
		return in, model.Errorf(model.KindValidation, "seats must be between 1 and %d", model.MaxGroupSeats)
	}
	guests, err := normalizeGuests(in.GuestNames)
	if err != nil {
		return in, err
	}
	if in.Seats != 1+len(guests) {
		return in, model.Errorf(model.KindValidation, "seats (%d) must equal 1 + number of guest names (%d)", in.Seats, len(guests))
	}
	in.GuestNames = guests
	return in, nil
}

// CheckSubmission validates in and verifies that the session exists and
// currently accepts registrations.  It is advisory: admission re-checks
// everything under the session lock.
func (e *Engine) CheckSubmission(in SubmitInput) (SubmitInput, error) {
	in, err := in.Validate()
	if err != nil {
		return in, err
	}
	st, ok := e.state(in.SessionID)
	if !ok {
		return in, model.Errorf(model.KindNotFound, "session %s not found", in.SessionID)
	}
	return in, e.open(st.session)
}

func (e *Engine) open(s model.Session) error {
	if s.Status != model.SessionScheduled {
		return model.Errorf(model.KindSessionNotOpen, "session is %s", s.Status)
	}
	if !e.now().Before(s.StartsAt) {
		return model.Errorf(model.KindSessionNotOpen, "session has already started")
	}
	return nil
}

// Submit admits a seat request synchronously.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (model.Registration, error) {
	in, err := in.Validate()
	if err != nil {
		return model.Registration{}, err
	}
	u, err := e.beginSession(ctx, in.SessionID)
	if err != nil {
		return model.Registration{}, err
	}
	defer u.release()
	r, err := u.submit(ctx, in)
	if err != nil {
		return model.Registration{}, err
	}
	if err := u.commit(ctx); err != nil {
		return model.Registration{}, err
	}
	return r, nil
}

// Admit resolves a queued request.  The registration, its hold and the
// terminal request are written in the same unit, so a request resolves
// exactly once.  Business failures are returned untouched for the caller
// to record as a rejection.
func (e *Engine) Admit(ctx context.Context, req model.Request) (model.Request, error) {
	if req.Terminal() {
		return req, nil
	}
	in, err := SubmitInput{
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		UserName:   req.UserName,
		Seats:      req.Seats,
		GuestNames: req.GuestNames,
	}.Validate()
	if err != nil {
		return model.Request{}, err
	}
	u, err := e.beginSession(ctx, in.SessionID)
	if err != nil {
		return model.Request{}, err
	}
	defer u.release()
	r, err := u.submit(ctx, in)
	if err != nil {
		return model.Request{}, err
	}
	now := e.now()
	resolved := req
	resolved.State = r.State
	id := r.ID
	resolved.RegistrationID = &id
	if r.WaitlistPos != nil {
		p := *r.WaitlistPos
		resolved.WaitlistPos = &p
	}
	resolved.ResolvedAt = &now
	u.requests = append(u.requests, resolved)
	if err := u.commit(ctx); err != nil {
		return model.Request{}, err
	}
	return resolved, nil
}

func (u *unit) submit(ctx context.Context, in SubmitInput) (model.Registration, error) {
	if err := u.e.open(u.st.session); err != nil {
		return model.Registration{}, err
	}
	if prior, ok := u.st.activeHost(in.UserID); ok {
		return model.Registration{}, model.Errorf(model.KindAlreadyRegistered, "user already holds registration %s in this session", prior.ID)
	}
	if err := u.lockUsers(ctx, in.UserID); err != nil {
		return model.Registration{}, err
	}
	id := u.e.newID()
	r := model.Registration{
		ID:         id,
		SessionID:  in.SessionID,
		HostUserID: in.UserID,
		HostName:   in.UserName,
		Seats:      in.Seats,
		GuestNames: in.GuestNames,
		GroupKey:   id,
		CreatedAt:  u.e.now(),
	}
	if err := u.admit(&r); err != nil {
		return model.Registration{}, err
	}
	return r.Clone(), nil
}

// admit places the hold for r and decides confirm versus waitlist.  A row
// that fits the remaining seats is confirmed; otherwise it joins the end of
// the waitlist.  The hold is placed in both cases.
func (u *unit) admit(r *model.Registration) error {
	s := &u.st.session
	amount := s.FeeCents * int64(r.Seats)
	if amount > 0 {
		if _, err := u.wt.PlaceHold(r.HostUserID, amount, s.ID, r.ID); err != nil {
			return err
		}
	}
	r.AmountCents = amount
	if s.RemainingSeats() >= r.Seats {
		r.State = model.RegConfirmed
		r.WaitlistPos = nil
		s.ConfirmedSeats += r.Seats
	} else {
		s.WaitlistSeq++
		pos := s.WaitlistSeq
		r.State = model.RegWaitlisted
		r.WaitlistPos = &pos
	}
	if r.GuestNames == nil {
		r.GuestNames = []string{}
	}
	u.put(*r)
	u.touch()
	return nil
}

// AddGuest adds a one-seat row for a named guest to the host's group.  The
// row is admitted on its own and billed to the host wallet.
func (e *Engine) AddGuest(ctx context.Context, actor model.Actor, hostRegID, name string) (model.Registration, error) {
	n, err := normalizeName(name)
	if err != nil {
		return model.Registration{}, err
	}
	sid, err := e.sessionOf(hostRegID)
	if err != nil {
		return model.Registration{}, err
	}
	u, err := e.beginSession(ctx, sid)
	if err != nil {
		return model.Registration{}, err
	}
	defer u.release()
	host, err := u.reg(hostRegID)
	if err != nil {
		return model.Registration{}, err
	}
	if err := canModify(actor, host); err != nil {
		return model.Registration{}, err
	}
	if !host.IsHost() || !host.Active() {
		return model.Registration{}, model.Errorf(model.KindInvalidState, "guests can only be added to an active host registration")
	}
	if err := e.open(u.st.session); err != nil {
		return model.Registration{}, err
	}
	if seats := u.st.groupSeats(host.GroupKey); seats >= model.MaxGroupSeats {
		return model.Registration{}, model.Errorf(model.KindSeatCapReached, "group already has %d active seats", seats)
	}
	if err := u.lockUsers(ctx, host.HostUserID); err != nil {
		return model.Registration{}, err
	}
	r := model.Registration{
		ID:         e.newID(),
		SessionID:  sid,
		HostUserID: host.HostUserID,
		HostName:   host.HostName,
		Seats:      1,
		GuestNames: []string{n},
		GroupKey:   host.GroupKey,
		CreatedAt:  e.now(),
	}
	if err := u.admit(&r); err != nil {
		return model.Registration{}, err
	}
	if err := u.commit(ctx); err != nil {
		return model.Registration{}, err
	}
	return r.Clone(), nil
}

// UpdateGuestsResult reports a seat count change on a host row.
type UpdateGuestsResult struct {
	RegistrationID string `json:"registration_id"`
	OldSeats       int    `json:"old_seats"`
	NewSeats       int    `json:"new_seats"`
	RefundCents    int64  `json:"refund_cents"`
	PenaltyCents   int64  `json:"penalty_cents"`
	State          string `json:"state"`
}

// UpdateGuests replaces the guest list of a host row.  Growing the row
// needs capacity (when confirmed) and an extra hold; shrinking it unwinds
// the removed seats with the cancellation policy.
func (e *Engine) UpdateGuests(ctx context.Context, actor model.Actor, regID string, names []string) (UpdateGuestsResult, error) {
	guests, err := normalizeGuests(names)
	if err != nil {
		return UpdateGuestsResult{}, err
	}
	newSeats := 1 + len(guests)
	if newSeats > model.MaxGroupSeats {
		return UpdateGuestsResult{}, model.Errorf(model.KindValidation, "at most %d guests per registration", model.MaxGroupSeats-1)
	}
	sid, err := e.sessionOf(regID)
	if err != nil {
		return UpdateGuestsResult{}, err
	}
	u, err := e.beginSession(ctx, sid)
	if err != nil {
		return UpdateGuestsResult{}, err
	}
	defer u.release()
	r, err := u.reg(regID)
	if err != nil {
		return UpdateGuestsResult{}, err
	}
	if err := canModify(actor, r); err != nil {
		return UpdateGuestsResult{}, err
	}
	if !r.Active() {
		return UpdateGuestsResult{}, model.Errorf(model.KindInvalidState, "registration is canceled")
	}
	if !r.IsHost() {
		return UpdateGuestsResult{}, model.Errorf(model.KindInvalidState, "guest rows cannot be resized; cancel the guest instead")
	}
	s := &u.st.session
	res := UpdateGuestsResult{RegistrationID: r.ID, OldSeats: r.Seats, NewSeats: newSeats}
	delta := newSeats - r.Seats
	if others := u.st.groupSeats(r.GroupKey) - r.Seats; others+newSeats > model.MaxGroupSeats {
		return UpdateGuestsResult{}, model.Errorf(model.KindSeatCapReached, "group would have %d active seats", others+newSeats)
	}
	if err := u.lockUsers(ctx, r.HostUserID); err != nil {
		return UpdateGuestsResult{}, err
	}
	switch {
	case delta > 0:
		if err := e.open(*s); err != nil {
			return UpdateGuestsResult{}, err
		}
		if r.State == model.RegConfirmed && s.RemainingSeats() < delta {
			return UpdateGuestsResult{}, model.Errorf(model.KindInsufficientCapacity, "only %d seats remaining", s.RemainingSeats())
		}
		if extra := s.FeeCents * int64(delta); extra > 0 {
			if _, err := u.wt.PlaceHold(r.HostUserID, extra, s.ID, r.ID); err != nil {
				return UpdateGuestsResult{}, err
			}
		}
		if r.State == model.RegConfirmed {
			s.ConfirmedSeats += delta
		}
	case delta < 0:
		now := e.now()
		if e.locked(*s, now) {
			return UpdateGuestsResult{}, model.Errorf(model.KindCancellationLocked, "seats cannot be released within %s of start", e.policy.CancelLockWindow)
		}
		refund, penalty, err := u.unwind(r.ID, s.FeeCents*int64(-delta), sameDay(*s, now))
		if err != nil {
			return UpdateGuestsResult{}, err
		}
		res.RefundCents, res.PenaltyCents = refund, penalty
		if r.State == model.RegConfirmed {
			s.ConfirmedSeats += delta
		}
	}
	r.Seats = newSeats
	r.GuestNames = guests
	r.AmountCents = s.FeeCents * int64(newSeats)
	u.put(r)
	u.touch()
	if delta < 0 {
		u.promote()
	}
	if err := u.commit(ctx); err != nil {
		return UpdateGuestsResult{}, err
	}
	res.State = u.st.regs[r.ID].State
	return res, nil
}
