package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/engine"
	"github.com/iliyamo/badminton-sessions/internal/idempotency"
	"github.com/iliyamo/badminton-sessions/internal/model"
)

// AdminHandler bundles the operator endpoints.  The router guards every
// route with RequireRole(admin).
type AdminHandler struct {
	Engine *engine.Engine
	Idem   idempotency.Store
}

// NewAdminHandler constructs an AdminHandler.  All dependencies must be
// non-nil.
func NewAdminHandler(e *engine.Engine, idem idempotency.Store) *AdminHandler {
	if e == nil || idem == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Engine: e, Idem: idem}
}

type preregistrationBody struct {
	UserID     string   `json:"user_id"`
	UserName   string   `json:"user_name"`
	Seats      int      `json:"seats"`
	GuestNames []string `json:"guest_names"`
}

type createSessionBody struct {
	Title            *string               `json:"title"`
	StartsAt         time.Time             `json:"starts_at_utc"`
	Timezone         string                `json:"timezone"`
	Capacity         int                   `json:"capacity"`
	FeeCents         int64                 `json:"fee_cents"`
	Preregistrations []preregistrationBody `json:"preregistrations"`
}

// CreateSession handles POST /admin/sessions.  Preregistrations are
// admitted in order and reported one by one; a failed preregistration does
// not prevent the session from being created.
func (h *AdminHandler) CreateSession(c echo.Context) error {
	var body createSessionBody
	if err := c.Bind(&body); err != nil {
		return invalid(c, "invalid request body")
	}
	in := engine.CreateSessionInput{
		Title:    body.Title,
		StartsAt: body.StartsAt.UTC(),
		Timezone: body.Timezone,
		Capacity: body.Capacity,
		FeeCents: body.FeeCents,
	}
	for _, p := range body.Preregistrations {
		seats := p.Seats
		if seats == 0 {
			seats = 1 + len(p.GuestNames)
		}
		in.Preregistrations = append(in.Preregistrations, engine.SubmitInput{
			UserID:     p.UserID,
			UserName:   p.UserName,
			Seats:      seats,
			GuestNames: p.GuestNames,
		})
	}
	res, err := h.Engine.CreateSession(c.Request().Context(), in)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// PatchSession handles PATCH /admin/sessions/:id with body
// {capacity?, status?}.
func (h *AdminHandler) PatchSession(c echo.Context) error {
	var body struct {
		Capacity *int    `json:"capacity"`
		Status   *string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return invalid(c, "invalid request body")
	}
	if body.Capacity == nil && body.Status == nil {
		return invalid(c, "capacity or status is required")
	}
	s, err := h.Engine.PatchSession(c.Request().Context(), c.Param("id"), engine.PatchSessionInput{
		Capacity: body.Capacity,
		Status:   body.Status,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// SettleSession handles POST /admin/sessions/:id/settle.
func (h *AdminHandler) SettleSession(c echo.Context) error {
	res, err := h.Engine.Settle(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type postingBody struct {
	UserID         string `json:"user_id"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Deposit handles POST /admin/deposits.
func (h *AdminHandler) Deposit(c echo.Context) error {
	return h.posting(c, "deposit", h.Engine.Deposit)
}

// Withdraw handles POST /admin/withdrawals.
func (h *AdminHandler) Withdraw(c echo.Context) error {
	return h.posting(c, "withdrawal", h.Engine.Withdraw)
}

type postFunc func(ctx context.Context, user string, amount int64, key string) (model.LedgerEntry, error)

// posting runs a deposit or withdrawal once per idempotency key.  The key
// comes from the body or the Idempotency-Key header; the ledger also
// records it so a replay after a restart still returns the first entry.
func (h *AdminHandler) posting(c echo.Context, op string, post postFunc) error {
	var body postingBody
	if err := c.Bind(&body); err != nil {
		return invalid(c, "invalid request body")
	}
	key := idempotencyKey(c, body.IdempotencyKey)
	if key == "" {
		return invalid(c, "idempotency_key is required")
	}
	if body.UserID == "" {
		return invalid(c, "user_id is required")
	}
	fp := idempotency.Fingerprint(body.UserID, body.AmountCents)
	resp, replayed, err := h.Idem.Do(c.Request().Context(), idempotency.Scope(op, body.UserID, key), fp, func(ctx context.Context) (idempotency.Response, error) {
		entry, err := post(ctx, body.UserID, body.AmountCents, key)
		if err != nil {
			return idempotency.Response{}, err
		}
		return jsonResponse(http.StatusCreated, echo.Map{
			"entry":   entry,
			"balance": h.Engine.Balance(body.UserID),
		})
	})
	if err != nil {
		return fail(c, err)
	}
	return replay(c, resp, replayed)
}

// UserWallet handles GET /admin/users/:id/wallet?ledger_limit=.  It
// returns the balance, the most recent ledger entries and every
// registration of the user.
func (h *AdminHandler) UserWallet(c echo.Context) error {
	user := c.Param("id")
	limit, err := ledgerLimit(c, "ledger_limit")
	if err != nil {
		return fail(c, err)
	}
	balance, err := h.Engine.RecomputeBalance(user)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":       user,
		"balance":       balance,
		"ledger":        h.Engine.Ledger(user, limit, 0),
		"registrations": h.Engine.UserRegistrations(user),
	})
}
