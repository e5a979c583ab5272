package router // router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/middleware" // JWT + role middlewares
	"github.com/iliyamo/badminton-sessions/internal/model"
)

// RegisterAdmin registers admin-scoped endpoints under /admin.
// All routes require a valid JWT and the admin role.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group(
		"/admin",
		middleware.JWTAuth(d.JWTSecret),
		middleware.RequireRole(model.RoleAdmin),
		middleware.NewTokenBucket(d.RateLimit, d.Redis),
	)

	// ---- Sessions ----
	g.POST("/sessions", d.Admin.CreateSession)
	g.PATCH("/sessions/:id", d.Admin.PatchSession)
	g.POST("/sessions/:id/settle", d.Admin.SettleSession)

	// ---- Wallets ----
	g.POST("/deposits", d.Admin.Deposit)
	g.POST("/withdrawals", d.Admin.Withdraw)
	g.GET("/users/:id/wallet", d.Admin.UserWallet)
}
