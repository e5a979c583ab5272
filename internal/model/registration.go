package model

import "time"

// Registration states.
const (
	RegConfirmed  = "confirmed"
	RegWaitlisted = "waitlisted"
	RegCanceled   = "canceled"
)

// MaxGroupSeats is the number of seats one host may occupy in a session:
// the host plus two named guests.
const MaxGroupSeats = 3

// Registration is one seat request row owned by a session.  Host rows
// have ID == GroupKey; rows created later through add-guest share the
// host's GroupKey and are billed to the host's wallet.
type Registration struct {
	ID           string     `json:"registration_id"`
	SessionID    string     `json:"session_id"`
	HostUserID   string     `json:"host_user_id"`
	HostName     string     `json:"host_name"`
	Seats        int        `json:"seats"`
	GuestNames   []string   `json:"guest_names"`
	State        string     `json:"state"`
	WaitlistPos  *int64     `json:"waitlist_pos"`
	GroupKey     string     `json:"group_key"`
	AmountCents  int64      `json:"amount_cents"`
	CreatedAt    time.Time  `json:"created_at"`
	CanceledAt   *time.Time `json:"canceled_at,omitempty"`
	CanceledFrom *string    `json:"canceled_from,omitempty"`
}

// IsHost reports whether r is the row that owns its group.
func (r Registration) IsHost() bool { return r.ID == r.GroupKey }

// Active reports whether r still occupies or awaits a seat.
func (r Registration) Active() bool { return r.State != RegCanceled }

// Clone returns a deep copy so callers can mutate it without touching a
// published snapshot.
func (r Registration) Clone() Registration {
	c := r
	if r.GuestNames != nil {
		c.GuestNames = append([]string(nil), r.GuestNames...)
	}
	if r.WaitlistPos != nil {
		p := *r.WaitlistPos
		c.WaitlistPos = &p
	}
	if r.CanceledAt != nil {
		t := *r.CanceledAt
		c.CanceledAt = &t
	}
	if r.CanceledFrom != nil {
		s := *r.CanceledFrom
		c.CanceledFrom = &s
	}
	return c
}
