package handler // handler defines http handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/idempotency"
	"github.com/iliyamo/badminton-sessions/internal/middleware"
	"github.com/iliyamo/badminton-sessions/internal/model"
)

// HeaderIdempotencyKey carries the client supplied deduplication key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderReplayed is set on responses served from the idempotency store.
const HeaderReplayed = "Idempotent-Replayed"

// statusOf maps an error kind onto an HTTP status code.
func statusOf(kind model.Kind) int {
	switch kind {
	case model.KindValidation, model.KindInvalidAmount:
		return http.StatusBadRequest
	case model.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConcurrencyTimeout:
		return http.StatusServiceUnavailable
	case model.KindSeatCapReached, model.KindCapacityBelowConfirmed, model.KindCancellationLocked,
		model.KindIdempotencyKeyReuse, model.KindNoActiveHold, model.KindAlreadyRegistered,
		model.KindSessionNotOpen, model.KindInvalidState, model.KindInsufficientCapacity:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": kind, "detail": message}.  Errors that are
// not business errors are logged and reported without detail.
func fail(c echo.Context, err error) error {
	if errors.Is(err, errUnauthorized) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "detail": "missing user"})
	}
	var e *model.Error
	if !errors.As(err, &e) {
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "detail": "internal server error"})
	}
	status := statusOf(e.Kind)
	if status == http.StatusServiceUnavailable {
		c.Response().Header().Set("Retry-After", "1")
	}
	detail := e.Message
	if detail == "" {
		detail = string(e.Kind)
	}
	return c.JSON(status, echo.Map{"error": string(e.Kind), "detail": detail})
}

func invalid(c echo.Context, format string, args ...any) error {
	return fail(c, model.Errorf(model.KindValidation, format, args...))
}

var errUnauthorized = errors.New("unauthorized")

// caller returns the authenticated actor.
func caller(c echo.Context) (model.Actor, error) {
	a := middleware.Actor(c)
	if a.UserID == "" {
		return a, errUnauthorized
	}
	return a, nil
}

// idempotencyKey returns the trimmed header value, or fallback when the
// header is absent.
func idempotencyKey(c echo.Context, fallback string) string {
	if k := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey)); k != "" {
		return k
	}
	return strings.TrimSpace(fallback)
}

// jsonResponse renders v into a response the idempotency store can keep.
func jsonResponse(status int, v any) (idempotency.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return idempotency.Response{}, err
	}
	return idempotency.Response{Status: status, Body: body}, nil
}

// replay writes a stored or fresh idempotent response.
func replay(c echo.Context, resp idempotency.Response, replayed bool) error {
	if replayed {
		c.Response().Header().Set(HeaderReplayed, "true")
	}
	return c.JSONBlob(resp.Status, resp.Body)
}

// queryInt parses an optional positive integer query parameter.
func queryInt(c echo.Context, name string, def int64) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, model.Errorf(model.KindValidation, "%s must be a non-negative integer", name)
	}
	return n, nil
}
