package model

import "time"

// Async request states.
const (
	RequestQueued     = "queued"
	RequestConfirmed  = "confirmed"
	RequestWaitlisted = "waitlisted"
	RequestRejected   = "rejected"
)

// RequestError is the failure reason attached to a rejected request.
type RequestError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Request tracks one asynchronous registration submission from the moment
// it is queued until it resolves.  Once State leaves queued the row is
// never modified again.
type Request struct {
	ID             string        `json:"request_id"`
	SessionID      string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	UserName       string        `json:"-"`
	Seats          int           `json:"seats"`
	GuestNames     []string      `json:"guest_names"`
	State          string        `json:"state"`
	RegistrationID *string       `json:"registration_id"`
	WaitlistPos    *int64        `json:"waitlist_pos"`
	Error          *RequestError `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// Terminal reports whether the request has been resolved.
func (r Request) Terminal() bool { return r.State != RequestQueued }
