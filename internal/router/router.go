package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"  // import the Echo web framework to handle routing
	"github.com/redis/go-redis/v9" // shared client for the rate limiter

	"github.com/iliyamo/badminton-sessions/internal/config"     // rate limit settings
	"github.com/iliyamo/badminton-sessions/internal/handler"    // handlers that implement the endpoints
	"github.com/iliyamo/badminton-sessions/internal/middleware" // JWT authentication, roles, rate limits and caching
)

// Deps carries everything the routes need.  Redis and Cache may be nil
// or disabled; the middlewares then pass requests through.
type Deps struct {
	JWTSecret      string
	Redis          *redis.Client
	RateLimit      config.RateLimitConfig
	WriteRateLimit config.RateLimitConfig
	Cache          *middleware.ResponseCache

	Sessions      *handler.SessionHandler
	Registrations *handler.RegistrationHandler
	Wallet        *handler.WalletHandler
	Admin         *handler.AdminHandler
	Events        *handler.EventsHandler
}

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Load balancers and monitoring probe this endpoint.
	e.GET("/healthz", handler.Health)
}

// Register wires the whole API.
func Register(e *echo.Echo, d Deps) {
	RegisterRoutes(e)
	RegisterPlayer(e, d)
	RegisterAdmin(e, d)
	RegisterEvents(e, d)
}
