package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/model"
)

func TestStatusOf(t *testing.T) {
	cases := map[model.Kind]int{
		model.KindValidation:             http.StatusBadRequest,
		model.KindInvalidAmount:          http.StatusBadRequest,
		model.KindInsufficientFunds:      http.StatusPaymentRequired,
		model.KindForbidden:              http.StatusForbidden,
		model.KindNotFound:               http.StatusNotFound,
		model.KindSeatCapReached:         http.StatusConflict,
		model.KindCapacityBelowConfirmed: http.StatusConflict,
		model.KindCancellationLocked:     http.StatusConflict,
		model.KindIdempotencyKeyReuse:    http.StatusConflict,
		model.KindNoActiveHold:           http.StatusConflict,
		model.KindAlreadyRegistered:      http.StatusConflict,
		model.KindSessionNotOpen:         http.StatusConflict,
		model.KindInvalidState:           http.StatusConflict,
		model.KindConcurrencyTimeout:     http.StatusServiceUnavailable,
		model.Kind("other"):              http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusOf(kind); got != want {
			t.Errorf("statusOf(%s) = %d, want %d", kind, got, want)
		}
	}
}

func run(err error) *httptest.ResponseRecorder {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = fail(c, err)
	return rec
}

func TestFail(t *testing.T) {
	rec := run(model.Errorf(model.KindConcurrencyTimeout, "busy"))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("timeout: %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if !strings.Contains(rec.Body.String(), `"detail":"busy"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = run(errors.New("disk on fire"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "disk") {
		t.Fatalf("internal: %d %s", rec.Code, rec.Body.String())
	}

	rec = run(errUnauthorized)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthorized: %d", rec.Code)
	}
}
