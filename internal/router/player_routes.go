package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/middleware"
)

// RegisterPlayer registers the endpoints available to every authenticated
// user.  Reads share the general bucket; mutations additionally draw from
// the smaller write bucket.  Session reads are served through the response
// cache, which is invalidated on every session change.
func RegisterPlayer(e *echo.Echo, d Deps) {
	g := e.Group(
		"",
		middleware.JWTAuth(d.JWTSecret),
		middleware.NewTokenBucket(d.RateLimit, d.Redis),
	)
	write := middleware.NewTokenBucket(d.WriteRateLimit, d.Redis)
	cached := d.Cache.Middleware()

	g.GET("/sessions", d.Sessions.ListSessions, cached)
	g.GET("/sessions/:id", d.Sessions.GetSession, cached)
	g.GET("/sessions/:id/registrations", d.Sessions.ListRegistrations)

	g.POST("/sessions/:id/register", d.Registrations.Register, write)
	g.GET("/requests/:id/status", d.Registrations.RequestStatus)
	g.GET("/me/registrations", d.Registrations.MyRegistrations)

	g.POST("/registrations/:id/cancel", d.Registrations.Cancel, write)
	g.POST("/registrations/:id/guests", d.Registrations.AddGuest, write)
	g.PATCH("/registrations/:id/guests", d.Registrations.UpdateGuests, write)

	g.GET("/wallet/me", d.Wallet.Me)
	g.GET("/wallet/me/ledger", d.Wallet.Ledger)
}

// RegisterEvents registers the server-sent event streams.  They are kept
// out of the rate-limited group since a stream is one long request.
func RegisterEvents(e *echo.Echo, d Deps) {
	g := e.Group("/events", middleware.JWTAuth(d.JWTSecret))
	g.GET("/sessions/:id", d.Events.Session)
	g.GET("/requests/:id", d.Events.Request)
}
