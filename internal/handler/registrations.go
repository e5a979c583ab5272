package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/engine"
	"github.com/iliyamo/badminton-sessions/internal/idempotency"
	"github.com/iliyamo/badminton-sessions/internal/model"
	"github.com/iliyamo/badminton-sessions/internal/tracker"
)

// RegistrationHandler groups the endpoints a player uses to register,
// follow a queued request, and manage their own rows.  All methods assume
// JWTAuth has already run.
type RegistrationHandler struct {
	Engine  *engine.Engine
	Tracker *tracker.Tracker
	Idem    idempotency.Store
}

// NewRegistrationHandler constructs a RegistrationHandler.  All
// dependencies must be non-nil.
func NewRegistrationHandler(e *engine.Engine, t *tracker.Tracker, idem idempotency.Store) *RegistrationHandler {
	if e == nil || t == nil || idem == nil {
		panic("nil dependency passed to NewRegistrationHandler")
	}
	return &RegistrationHandler{Engine: e, Tracker: t, Idem: idem}
}

type registerBody struct {
	Seats      int      `json:"seats"`
	GuestNames []string `json:"guest_names"`
}

// Register handles POST /sessions/:id/register.  The Idempotency-Key
// header is required.  The submission is checked, durably queued and
// answered with 202 {request_id, state}; the outcome is read from
// GET /requests/:id/status.  Repeating the call with the same key and body
// returns the original response; a different body is rejected.
func (h *RegistrationHandler) Register(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	key := idempotencyKey(c, "")
	if key == "" {
		return invalid(c, "%s header is required", HeaderIdempotencyKey)
	}
	var body registerBody
	if err := c.Bind(&body); err != nil {
		return invalid(c, "invalid request body")
	}
	if body.GuestNames == nil {
		body.GuestNames = []string{}
	}
	if body.Seats == 0 {
		body.Seats = 1 + len(body.GuestNames)
	}
	in := engine.SubmitInput{
		SessionID:  c.Param("id"),
		UserID:     a.UserID,
		UserName:   a.Name,
		Seats:      body.Seats,
		GuestNames: body.GuestNames,
	}
	fp := idempotency.Fingerprint(in.SessionID, in.Seats, in.GuestNames)
	scope := idempotency.Scope("register", a.UserID, key)
	resp, replayed, err := h.Idem.Do(c.Request().Context(), scope, fp, func(ctx context.Context) (idempotency.Response, error) {
		checked, err := h.Engine.CheckSubmission(in)
		if err != nil {
			return idempotency.Response{}, err
		}
		req, err := h.Tracker.Enqueue(ctx, tracker.Submission{
			SessionID:  checked.SessionID,
			UserID:     checked.UserID,
			UserName:   checked.UserName,
			Seats:      checked.Seats,
			GuestNames: checked.GuestNames,
		})
		if err != nil {
			return idempotency.Response{}, err
		}
		return jsonResponse(http.StatusAccepted, echo.Map{"request_id": req.ID, "state": req.State})
	})
	if err != nil {
		return fail(c, err)
	}
	return replay(c, resp, replayed)
}

type requestStatus struct {
	model.Request
	RegistrationState  *string `json:"registration_state,omitempty"`
	CurrentWaitlistPos *int64  `json:"current_waitlist_pos,omitempty"`
}

// RequestStatus handles GET /requests/:id/status.  Only the submitter or
// an admin may read a request.  Once resolved, the live state of the
// produced registration is included so a waitlisted request shows its
// promotion.
func (h *RegistrationHandler) RequestStatus(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	req, err := h.Tracker.Get(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if req.UserID != a.UserID && !a.IsAdmin() {
		return fail(c, model.Errorf(model.KindForbidden, "request belongs to another user"))
	}
	out := requestStatus{Request: req}
	if req.RegistrationID != nil {
		if r, err := h.Engine.Registration(*req.RegistrationID); err == nil {
			state := r.State
			out.RegistrationState = &state
			out.CurrentWaitlistPos = r.WaitlistPos
		}
	}
	return c.JSON(http.StatusOK, out)
}

// MyRegistrations handles GET /me/registrations, newest first.
func (h *RegistrationHandler) MyRegistrations(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"registrations": h.Engine.UserRegistrations(a.UserID)})
}

// Cancel handles POST /registrations/:id/cancel.  Canceling a host row
// cancels its guests too; freed seats are offered to the waitlist in the
// same step.
func (h *RegistrationHandler) Cancel(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	res, err := h.Engine.Cancel(c.Request().Context(), a, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// AddGuest handles POST /registrations/:id/guests with body {name}.  The
// new one-seat row is billed to the host.
func (h *RegistrationHandler) AddGuest(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return invalid(c, "invalid request body")
	}
	r, err := h.Engine.AddGuest(c.Request().Context(), a, c.Param("id"), body.Name)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// UpdateGuests handles PATCH /registrations/:id/guests with body
// {guest_names}.  The seat count follows the number of names.
func (h *RegistrationHandler) UpdateGuests(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		GuestNames *[]string `json:"guest_names"`
	}
	if err := c.Bind(&body); err != nil {
		return invalid(c, "invalid request body")
	}
	if body.GuestNames == nil {
		return invalid(c, "guest_names is required")
	}
	res, err := h.Engine.UpdateGuests(c.Request().Context(), a, c.Param("id"), *body.GuestNames)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
