package middleware

// identity.go holds the helpers that read the authenticated caller back out
// of the Echo context once JWTAuth has run.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

// Actor returns the caller stored by JWTAuth.  The zero Actor is returned
// for unauthenticated requests.
func Actor(c echo.Context) model.Actor {
	a := model.Actor{Role: model.RoleUser}
	if v, ok := c.Get(CtxUserID).(string); ok {
		a.UserID = v
	}
	if v, ok := c.Get(CtxName).(string); ok {
		a.Name = v
	}
	if v, ok := c.Get(CtxRole).(string); ok && v != "" {
		a.Role = v
	}
	if a.UserID == "" {
		return model.Actor{}
	}
	return a
}

// userID extracts a user identifier for rate limit keys.  It returns
// "anon" when no user is authenticated.
func userID(c echo.Context) string {
	if v, ok := c.Get(CtxUserID).(string); ok && v != "" {
		return v
	}
	return "anon"
}
