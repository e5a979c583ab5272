package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/engine"
)

// SessionHandler serves the read side of sessions to any authenticated
// user.
type SessionHandler struct {
	Engine *engine.Engine
}

// NewSessionHandler constructs a SessionHandler and panics if the engine
// is nil.
func NewSessionHandler(e *engine.Engine) *SessionHandler {
	if e == nil {
		panic("nil engine passed to NewSessionHandler")
	}
	return &SessionHandler{Engine: e}
}

// ListSessions handles GET /sessions.  Sessions are ordered by start time
// and carry their confirmed and remaining seat counts.
func (h *SessionHandler) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"sessions": h.Engine.ListSessions()})
}

// GetSession handles GET /sessions/:id.
func (h *SessionHandler) GetSession(c echo.Context) error {
	s, err := h.Engine.GetSession(c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, s)
}

// ListRegistrations handles GET /sessions/:id/registrations.  Confirmed
// rows come first, then the waitlist in position order, then canceled
// rows.
func (h *SessionHandler) ListRegistrations(c echo.Context) error {
	id := c.Param("id")
	s, err := h.Engine.GetSession(id)
	if err != nil {
		return fail(c, err)
	}
	rows, err := h.Engine.SessionRegistrations(id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"session": s, "registrations": rows})
}
