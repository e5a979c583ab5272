package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/config"
	"github.com/iliyamo/badminton-sessions/internal/model"
	"github.com/iliyamo/badminton-sessions/internal/utils"
)

const secret = "test-secret"

func newServer() *echo.Echo {
	e := echo.New()
	g := e.Group("", JWTAuth(secret))
	g.GET("/whoami", func(c echo.Context) error {
		return c.JSON(http.StatusOK, Actor(c))
	})
	g.GET("/admin", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, RequireRole(model.RoleAdmin))
	return e
}

func call(t *testing.T, e *echo.Echo, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, sec, user, role string, ttl time.Duration) string {
	t.Helper()
	tok, err := utils.NewAccessToken(sec, user, "Ann", role, ttl)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok.Token
}

func TestJWTAuth(t *testing.T) {
	e := newServer()

	if rec := call(t, e, "/whoami", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d", rec.Code)
	}
	if rec := call(t, e, "/whoami", token(t, "other", "u1", model.RoleUser, time.Hour)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: got %d", rec.Code)
	}
	if rec := call(t, e, "/whoami", token(t, secret, "u1", model.RoleUser, -time.Minute)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired: got %d", rec.Code)
	}
	rec := call(t, e, "/whoami", token(t, secret, "u1", model.RoleUser, time.Hour))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid: got %d %s", rec.Code, rec.Body.String())
	}
	want := `{"UserID":"u1","Name":"Ann","Role":"user"}` + "\n"
	if rec.Body.String() != want {
		t.Fatalf("actor = %s, want %s", rec.Body.String(), want)
	}
}

func TestRequireRole(t *testing.T) {
	e := newServer()
	if rec := call(t, e, "/admin", token(t, secret, "u1", model.RoleUser, time.Hour)); rec.Code != http.StatusForbidden {
		t.Fatalf("user on admin route: got %d", rec.Code)
	}
	if rec := call(t, e, "/admin", token(t, secret, "a1", model.RoleAdmin, time.Hour)); rec.Code != http.StatusNoContent {
		t.Fatalf("admin: got %d", rec.Code)
	}
}

func TestDisabledMiddlewaresPassThrough(t *testing.T) {
	e := echo.New()
	rc := NewRedisCache(config.CacheConfig{Enabled: true}, nil)
	e.GET("/x", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}, NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil), rc.Middleware())
	rc.SessionChanged("s1")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Cache") != "" {
		t.Fatalf("cache header set on disabled cache")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	status, got, body, ok := decodePayload(bs)
	if !ok || status != http.StatusOK || string(body) != `{"a":1}` || got.Get("Content-Type") != "application/json" {
		t.Fatalf("decode = %d %v %q %v", status, got, body, ok)
	}
	if _, _, _, ok := decodePayload(bs[:5]); ok {
		t.Fatal("short payload decoded")
	}
}
