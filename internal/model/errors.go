// Package model holds the domain types shared by the engine, the
// repositories and the HTTP handlers, together with the error taxonomy.
// Every business failure is an *Error carrying a Kind; callers compare
// against the sentinel kinds below with errors.Is so that handlers can
// translate them into HTTP status codes.
package model

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindForbidden              Kind = "forbidden"
	KindInsufficientFunds      Kind = "insufficient_funds"
	KindInvalidAmount          Kind = "invalid_amount"
	KindCapacityBelowConfirmed Kind = "capacity_below_confirmed"
	KindCancellationLocked     Kind = "cancellation_locked"
	KindIdempotencyKeyReuse    Kind = "idempotency_key_reuse"
	KindNoActiveHold           Kind = "no_active_hold"
	KindSeatCapReached         Kind = "seat_cap_reached"
	KindInsufficientCapacity   Kind = "insufficient_capacity"
	KindAlreadyRegistered      Kind = "already_registered"
	KindSessionNotOpen         Kind = "session_not_open"
	KindInvalidState           Kind = "invalid_state"
	KindConcurrencyTimeout     Kind = "concurrency_timeout"
)

// Error is a business failure with a kind and a human readable message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinel values for errors.Is comparisons.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrInsufficientFunds      = &Error{Kind: KindInsufficientFunds}
	ErrInvalidAmount          = &Error{Kind: KindInvalidAmount}
	ErrCapacityBelowConfirmed = &Error{Kind: KindCapacityBelowConfirmed}
	ErrCancellationLocked     = &Error{Kind: KindCancellationLocked}
	ErrIdempotencyKeyReuse    = &Error{Kind: KindIdempotencyKeyReuse}
	ErrNoActiveHold           = &Error{Kind: KindNoActiveHold}
	ErrSeatCapReached         = &Error{Kind: KindSeatCapReached}
	ErrInsufficientCapacity   = &Error{Kind: KindInsufficientCapacity}
	ErrAlreadyRegistered      = &Error{Kind: KindAlreadyRegistered}
	ErrSessionNotOpen         = &Error{Kind: KindSessionNotOpen}
	ErrInvalidState           = &Error{Kind: KindInvalidState}
	ErrConcurrencyTimeout     = &Error{Kind: KindConcurrencyTimeout}
)

// KindOf returns the kind of err, or "" when err is not a business error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
