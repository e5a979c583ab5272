package engine

import (
	"sort"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// sessionState is an immutable snapshot of one session and the rows it
// owns.  Writers clone it, mutate the clone inside a unit and publish the
// clone only after the journal commit succeeds.
type sessionState struct {
	session model.Session
	regs    map[string]model.Registration
}

func newSessionState(s model.Session) *sessionState {
	return &sessionState{session: s, regs: make(map[string]model.Registration)}
}

// clone copies the registration map.  Registrations themselves are
// replaced, never mutated in place, so a shallow copy of the map is enough.
func (st *sessionState) clone() *sessionState {
	c := &sessionState{session: st.session, regs: make(map[string]model.Registration, len(st.regs))}
	for id, r := range st.regs {
		c.regs[id] = r
	}
	return c
}

// rows returns the registrations ordered for display: confirmed rows by
// creation, then the waitlist by position, then canceled rows.
func (st *sessionState) rows() []model.Registration {
	out := make([]model.Registration, 0, len(st.regs))
	for _, r := range st.regs {
		out = append(out, r.Clone())
	}
	rank := map[string]int{model.RegConfirmed: 0, model.RegWaitlisted: 1, model.RegCanceled: 2}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if rank[a.State] != rank[b.State] {
			return rank[a.State] < rank[b.State]
		}
		if a.State == model.RegWaitlisted {
			return *a.WaitlistPos < *b.WaitlistPos
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// waitlist returns the waitlisted rows in ascending position.
func (st *sessionState) waitlist() []model.Registration {
	var out []model.Registration
	for _, r := range st.regs {
		if r.State == model.RegWaitlisted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].WaitlistPos < *out[j].WaitlistPos })
	return out
}

// group returns the active rows sharing groupKey.
func (st *sessionState) group(groupKey string) []model.Registration {
	var out []model.Registration
	for _, r := range st.regs {
		if r.GroupKey == groupKey && r.Active() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (st *sessionState) groupSeats(groupKey string) int {
	n := 0
	for _, r := range st.group(groupKey) {
		n += r.Seats
	}
	return n
}

// activeHost returns the active host row of user, if any.
func (st *sessionState) activeHost(userID string) (model.Registration, bool) {
	for _, r := range st.regs {
		if r.HostUserID == userID && r.IsHost() && r.Active() {
			return r, true
		}
	}
	return model.Registration{}, false
}

// countConfirmed recomputes confirmed_seats from the rows.
func (st *sessionState) countConfirmed() int {
	n := 0
	for _, r := range st.regs {
		if r.State == model.RegConfirmed {
			n += r.Seats
		}
	}
	return n
}

// activeUsers returns the wallets backing the active rows.
func (st *sessionState) activeUsers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range st.regs {
		if !r.Active() {
			continue
		}
		if _, ok := seen[r.HostUserID]; !ok {
			seen[r.HostUserID] = struct{}{}
			out = append(out, r.HostUserID)
		}
	}
	sort.Strings(out)
	return out
}
