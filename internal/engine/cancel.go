package engine

import (
	"context"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// CancelResult is the money movement of a cancellation, summed over the
// row and any guest rows it cascaded to.
type CancelResult struct {
	RegistrationID string   `json:"registration_id"`
	State          string   `json:"state"`
	RefundCents    int64    `json:"refund_cents"`
	PenaltyCents   int64    `json:"penalty_cents"`
	Canceled       []string `json:"canceled_registration_ids"`
	Promoted       []string `json:"promoted_registration_ids"`
}

// Cancel cancels a row.  Canceling a host row cascades to every active
// guest row of its group.  Freed seats are handed to the waitlist in the
// same unit.
func (e *Engine) Cancel(ctx context.Context, actor model.Actor, regID string) (CancelResult, error) {
	sid, err := e.sessionOf(regID)
	if err != nil {
		return CancelResult{}, err
	}
	u, err := e.beginSession(ctx, sid)
	if err != nil {
		return CancelResult{}, err
	}
	defer u.release()
	r, err := u.reg(regID)
	if err != nil {
		return CancelResult{}, err
	}
	if err := canModify(actor, r); err != nil {
		return CancelResult{}, err
	}
	if !r.Active() {
		return CancelResult{}, model.Errorf(model.KindInvalidState, "registration is already canceled")
	}
	s := u.st.session
	now := e.now()
	if e.locked(s, now) {
		return CancelResult{}, model.Errorf(model.KindCancellationLocked, "cancellation closes %s before start", e.policy.CancelLockWindow)
	}
	if err := u.lockUsers(ctx, r.HostUserID); err != nil {
		return CancelResult{}, err
	}

	targets := []model.Registration{r}
	if r.IsHost() {
		for _, g := range u.st.group(r.GroupKey) {
			if g.ID != r.ID {
				targets = append(targets, g.Clone())
			}
		}
	}
	split := sameDay(s, now)
	res := CancelResult{RegistrationID: r.ID, State: model.RegCanceled}
	for _, t := range targets {
		refund, penalty, err := u.cancelRow(t, split)
		if err != nil {
			return CancelResult{}, err
		}
		res.RefundCents += refund
		res.PenaltyCents += penalty
		res.Canceled = append(res.Canceled, t.ID)
	}
	u.promote()
	if err := u.commit(ctx); err != nil {
		return CancelResult{}, err
	}
	res.Promoted = u.promoted
	return res, nil
}

// cancelRow moves r to canceled and unwinds every cent tied to it.
func (u *unit) cancelRow(r model.Registration, split bool) (int64, int64, error) {
	held, captured := u.wt.Held(r.ID)
	refund, penalty, err := u.unwind(r.ID, held+captured, split)
	if err != nil {
		return 0, 0, err
	}
	now := u.e.now()
	from := r.State
	if r.State == model.RegConfirmed {
		u.st.session.ConfirmedSeats -= r.Seats
	}
	r.State = model.RegCanceled
	r.WaitlistPos = nil
	r.CanceledAt = &now
	r.CanceledFrom = &from
	u.put(r)
	u.touch()
	return refund, penalty, nil
}

// unwind returns amount of the funds tied to regID.  Without split it is
// a full refund: held funds are released and captured funds refunded.
// With split the penalty share is kept and the rest refunded; the odd
// cent goes to the customer.
func (u *unit) unwind(regID string, amount int64, split bool) (refund, penalty int64, err error) {
	held, captured := u.wt.Held(regID)
	amount = min(amount, held+captured)
	if amount <= 0 {
		return 0, 0, nil
	}
	if !split {
		x := min(amount, held)
		if _, err := u.wt.ReleaseHoldAmount(regID, x); err != nil {
			return 0, 0, err
		}
		if rest := amount - x; rest > 0 {
			if _, err := u.wt.Refund(regID, rest); err != nil {
				return 0, 0, err
			}
		}
		return amount, 0, nil
	}
	penalty = amount * u.e.policy.SameDayPenaltyPercent / 100
	refund = amount - penalty
	if _, err := u.wt.Refund(regID, refund); err != nil {
		return 0, 0, err
	}
	if _, err := u.wt.Penalize(regID, penalty); err != nil {
		return 0, 0, err
	}
	return refund, penalty, nil
}
