package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/engine"
	"github.com/iliyamo/badminton-sessions/internal/model"
)

// Ledger page bounds.
const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 200
)

// WalletHandler exposes the caller's own wallet.
type WalletHandler struct {
	Engine *engine.Engine
}

// NewWalletHandler constructs a WalletHandler and panics if the engine is
// nil.
func NewWalletHandler(e *engine.Engine) *WalletHandler {
	if e == nil {
		panic("nil engine passed to NewWalletHandler")
	}
	return &WalletHandler{Engine: e}
}

type walletView struct {
	UserID string `json:"user_id"`
	model.Balance
}

// Me handles GET /wallet/me.
func (h *WalletHandler) Me(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, walletView{UserID: a.UserID, Balance: h.Engine.Balance(a.UserID)})
}

// Ledger handles GET /wallet/me/ledger?limit=&before_id=.  Entries are
// returned newest first; next_before_id continues the listing.
func (h *WalletHandler) Ledger(c echo.Context) error {
	a, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	limit, err := ledgerLimit(c, "limit")
	if err != nil {
		return fail(c, err)
	}
	before, err := queryInt(c, "before_id", 0)
	if err != nil {
		return fail(c, err)
	}
	entries := h.Engine.Ledger(a.UserID, limit, before)
	out := echo.Map{"entries": entries}
	if len(entries) == limit {
		out["next_before_id"] = entries[len(entries)-1].ID
	}
	return c.JSON(http.StatusOK, out)
}

func ledgerLimit(c echo.Context, name string) (int, error) {
	n, err := queryInt(c, name, defaultLedgerLimit)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		n = defaultLedgerLimit
	}
	if n > maxLedgerLimit {
		n = maxLedgerLimit
	}
	return int(n), nil
}
