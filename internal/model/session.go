package model

import (
	"time"
	_ "time/tzdata" // sessions carry IANA zones; do not depend on the host database
)

// Session lifecycle states.
const (
	SessionScheduled = "scheduled"
	SessionClosed    = "closed"
	SessionCanceled  = "canceled"
)

// Session represents a scheduled badminton session with a fixed number of
// seats.  ConfirmedSeats is a projection of the confirmed registrations
// and is only ever updated under the session lock together with the rows
// it summarises.
//
// Fields:
//  ID             – primary key identifier (uuid).
//  Title          – optional display title.
//  StartsAt       – start instant in UTC.
//  Timezone       – IANA zone the session is played in (display, same-day policy).
//  Capacity       – number of seats; must stay >= ConfirmedSeats.
//  FeeCents       – fee per seat in minor units.
//  Status         – scheduled, closed or canceled.
//  ConfirmedSeats – seats held by confirmed registrations.
//  WaitlistSeq    – last waitlist position handed out; never reused.
//  SettledAt      – when holds were captured after the session started.
//  CreatedAt      – creation timestamp.
type Session struct {
	ID             string     `json:"id"`
	Title          *string    `json:"title,omitempty"`
	StartsAt       time.Time  `json:"starts_at_utc"`
	Timezone       string     `json:"timezone"`
	Capacity       int        `json:"capacity"`
	FeeCents       int64      `json:"fee_cents"`
	Status         string     `json:"status"`
	ConfirmedSeats int        `json:"confirmed_seats"`
	WaitlistSeq    int64      `json:"-"`
	SettledAt      *time.Time `json:"settled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// RemainingSeats returns the number of seats that can still be confirmed.
func (s Session) RemainingSeats() int {
	if r := s.Capacity - s.ConfirmedSeats; r > 0 {
		return r
	}
	return 0
}

// Location resolves the session timezone, falling back to UTC when the
// stored name cannot be loaded.
func (s Session) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SessionView is the wire shape of a session including its derived
// counters.
type SessionView struct {
	Session
	RemainingSeats int `json:"remaining_seats"`
}

// View builds the wire representation of s.
func (s Session) View() SessionView {
	return SessionView{Session: s, RemainingSeats: s.RemainingSeats()}
}
