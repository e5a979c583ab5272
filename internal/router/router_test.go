package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/badminton-sessions/internal/engine"
	"github.com/iliyamo/badminton-sessions/internal/events"
	"github.com/iliyamo/badminton-sessions/internal/handler"
	"github.com/iliyamo/badminton-sessions/internal/idempotency"
	"github.com/iliyamo/badminton-sessions/internal/journal"
	"github.com/iliyamo/badminton-sessions/internal/model"
	"github.com/iliyamo/badminton-sessions/internal/tracker"
	"github.com/iliyamo/badminton-sessions/internal/utils"
)

const testSecret = "testsecret"

type app struct {
	e   *echo.Echo
	eng *engine.Engine
	hub *events.Hub
}

// buildTestApp wires the full API over in-memory storage with running
// admission workers.
func buildTestApp(t *testing.T) *app {
	t.Helper()
	j := journal.NewMemory()
	hub := events.NewHub()
	eng := engine.New(j, engine.Config{LockTimeout: time.Second}, engine.WithNotifier(hub))
	trk := tracker.New(eng, j, hub, tracker.Config{Workers: 2, QueueSize: 16})
	idem := idempotency.NewMemory(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = trk.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	e := echo.New()
	Register(e, Deps{
		JWTSecret:     testSecret,
		Sessions:      handler.NewSessionHandler(eng),
		Registrations: handler.NewRegistrationHandler(eng, trk, idem),
		Wallet:        handler.NewWalletHandler(eng),
		Admin:         handler.NewAdminHandler(eng, idem),
		Events:        handler.NewEventsHandler(hub, eng, trk, 20*time.Millisecond),
	})
	return &app{e: e, eng: eng, hub: hub}
}

func signTestToken(t *testing.T, user, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, user, strings.ToUpper(user), role, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok.Token
}

type call struct {
	method, path, body, user, role string
	header                         map[string]string
}

func (a *app) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if c.user != "" {
		role := c.role
		if role == "" {
			role = model.RoleUser
		}
		req.Header.Set("Authorization", "Bearer "+signTestToken(t, c.user, role))
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("status = %d, want %d: %s", rec.Code, code, rec.Body.String())
	}
}

func (a *app) createSession(t *testing.T, capacity int) string {
	t.Helper()
	body := `{"title":"Tuesday doubles","starts_at_utc":"` + time.Now().Add(72*time.Hour).UTC().Format(time.RFC3339) +
		`","timezone":"Europe/Berlin","capacity":` + itoa(capacity) + `,"fee_cents":1000}`
	rec := a.do(t, call{method: http.MethodPost, path: "/admin/sessions", body: body, user: "admin", role: model.RoleAdmin})
	expect(t, rec, http.StatusCreated)
	var out struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	decode(t, rec, &out)
	return out.Session.ID
}

func (a *app) deposit(t *testing.T, user string, cents int64, key string) {
	t.Helper()
	body := `{"user_id":"` + user + `","amount_cents":` + itoa(int(cents)) + `,"idempotency_key":"` + key + `"}`
	rec := a.do(t, call{method: http.MethodPost, path: "/admin/deposits", body: body, user: "admin", role: model.RoleAdmin})
	expect(t, rec, http.StatusCreated)
}

func (a *app) register(t *testing.T, session, user, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := map[string]string{}
	if key != "" {
		h[handler.HeaderIdempotencyKey] = key
	}
	return a.do(t, call{method: http.MethodPost, path: "/sessions/" + session + "/register", body: body, user: user, header: h})
}

type statusView struct {
	RequestID         string              `json:"request_id"`
	State             string              `json:"state"`
	RegistrationID    *string             `json:"registration_id"`
	RegistrationState *string             `json:"registration_state"`
	Error             *model.RequestError `json:"error"`
}

// await polls the request status until it leaves queued.
func (a *app) await(t *testing.T, user, id string) statusView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := a.do(t, call{method: http.MethodGet, path: "/requests/" + id + "/status", user: user})
		expect(t, rec, http.StatusOK)
		var v statusView
		decode(t, rec, &v)
		if v.State != model.RequestQueued {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("request %s still queued", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestHealth(t *testing.T) {
	a := buildTestApp(t)
	rec := a.do(t, call{method: http.MethodGet, path: "/healthz"})
	expect(t, rec, http.StatusOK)
}

func TestAuthAndRoles(t *testing.T) {
	a := buildTestApp(t)
	expect(t, a.do(t, call{method: http.MethodGet, path: "/sessions"}), http.StatusUnauthorized)
	expect(t, a.do(t, call{method: http.MethodGet, path: "/sessions", user: "u1"}), http.StatusOK)
	rec := a.do(t, call{method: http.MethodPost, path: "/admin/sessions", body: `{}`, user: "u1"})
	expect(t, rec, http.StatusForbidden)
}

func TestRegisterFlow(t *testing.T) {
	a := buildTestApp(t)
	sid := a.createSession(t, 1)
	a.deposit(t, "u1", 5000, "dep-1")
	a.deposit(t, "u2", 5000, "dep-2")

	// First registration takes the only seat.
	rec := a.register(t, sid, "u1", "k1", `{"seats":1}`)
	expect(t, rec, http.StatusAccepted)
	var first struct {
		RequestID string `json:"request_id"`
		State     string `json:"state"`
	}
	decode(t, rec, &first)
	if first.State != model.RequestQueued || first.RequestID == "" {
		t.Fatalf("accepted = %+v", first)
	}

	// Same key and body replays the original answer.
	again := a.register(t, sid, "u1", "k1", `{"seats":1}`)
	expect(t, again, http.StatusAccepted)
	if again.Header().Get(handler.HeaderReplayed) != "true" || again.Body.String() != rec.Body.String() {
		t.Fatalf("replay = %s %q", again.Body.String(), again.Header().Get(handler.HeaderReplayed))
	}

	// Same key, different body.
	reuse := a.register(t, sid, "u1", "k1", `{"seats":2,"guest_names":["Bo"]}`)
	expect(t, reuse, http.StatusConflict)
	var apiErr struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	decode(t, reuse, &apiErr)
	if apiErr.Error != string(model.KindIdempotencyKeyReuse) || apiErr.Detail == "" {
		t.Fatalf("reuse error = %+v", apiErr)
	}

	// No key at all.
	expect(t, a.register(t, sid, "u1", "", `{"seats":1}`), http.StatusBadRequest)

	st := a.await(t, "u1", first.RequestID)
	if st.State != model.RequestConfirmed || st.RegistrationID == nil {
		t.Fatalf("first = %+v", st)
	}

	// Another user's request is not visible.
	expect(t, a.do(t, call{method: http.MethodGet, path: "/requests/" + first.RequestID + "/status", user: "u2"}), http.StatusForbidden)

	// Second user is waitlisted.
	rec = a.register(t, sid, "u2", "k1", `{"seats":1}`)
	expect(t, rec, http.StatusAccepted)
	var second struct {
		RequestID string `json:"request_id"`
	}
	decode(t, rec, &second)
	st2 := a.await(t, "u2", second.RequestID)
	if st2.State != model.RequestWaitlisted {
		t.Fatalf("second = %+v", st2)
	}

	// Cancel the confirmed row; the waitlisted one is promoted.
	rec = a.do(t, call{method: http.MethodPost, path: "/registrations/" + *st.RegistrationID + "/cancel", user: "u1"})
	expect(t, rec, http.StatusOK)
	var cancel engine.CancelResult
	decode(t, rec, &cancel)
	if cancel.RefundCents != 1000 || len(cancel.Promoted) != 1 || cancel.Promoted[0] != *st2.RegistrationID {
		t.Fatalf("cancel = %+v", cancel)
	}
	st2 = a.await(t, "u2", second.RequestID)
	if st2.RegistrationState == nil || *st2.RegistrationState != model.RegConfirmed {
		t.Fatalf("promoted status = %+v", st2)
	}

	// The freed hold shows up in the wallet.
	rec = a.do(t, call{method: http.MethodGet, path: "/wallet/me", user: "u1"})
	expect(t, rec, http.StatusOK)
	var w model.Balance
	decode(t, rec, &w)
	if w.AvailableCents != 5000 || w.HoldsCents != 0 {
		t.Fatalf("u1 wallet = %+v", w)
	}
}

func TestRegisterRejections(t *testing.T) {
	a := buildTestApp(t)
	sid := a.createSession(t, 4)

	// Unknown session is refused before anything is queued.
	expect(t, a.register(t, "missing", "u1", "k1", `{"seats":1}`), http.StatusNotFound)
	// Seat count must match guest names.
	expect(t, a.register(t, sid, "u1", "k2", `{"seats":3,"guest_names":["A"]}`), http.StatusBadRequest)

	// No money: accepted, then rejected asynchronously.
	rec := a.register(t, sid, "poor", "k1", `{"seats":1}`)
	expect(t, rec, http.StatusAccepted)
	var acc struct {
		RequestID string `json:"request_id"`
	}
	decode(t, rec, &acc)
	st := a.await(t, "poor", acc.RequestID)
	if st.State != model.RequestRejected || st.Error == nil || st.Error.Kind != string(model.KindInsufficientFunds) {
		t.Fatalf("poor = %+v", st)
	}
	if b := a.eng.Balance("poor"); b != (model.Balance{}) {
		t.Fatalf("rejected request left balance %+v", b)
	}
}

func TestErrorMapping(t *testing.T) {
	a := buildTestApp(t)
	sid := a.createSession(t, 2)

	cases := []struct {
		name string
		c    call
		code int
		kind model.Kind
	}{
		{"unknown registration", call{method: http.MethodPost, path: "/registrations/nope/cancel", user: "u1"}, http.StatusNotFound, model.KindNotFound},
		{"unknown session", call{method: http.MethodGet, path: "/sessions/nope", user: "u1"}, http.StatusNotFound, model.KindNotFound},
		{"zero capacity", call{method: http.MethodPatch, path: "/admin/sessions/" + sid, body: `{"capacity":0}`, user: "admin", role: model.RoleAdmin}, http.StatusBadRequest, model.KindValidation},
		{"unknown status", call{method: http.MethodPatch, path: "/admin/sessions/" + sid, body: `{"status":"bogus"}`, user: "admin", role: model.RoleAdmin}, http.StatusBadRequest, model.KindValidation},
		{"deposit without key", call{method: http.MethodPost, path: "/admin/deposits", body: `{"user_id":"u1","amount_cents":5}`, user: "admin", role: model.RoleAdmin}, http.StatusBadRequest, model.KindValidation},
		{"negative deposit", call{method: http.MethodPost, path: "/admin/deposits", body: `{"user_id":"u1","amount_cents":-5,"idempotency_key":"x"}`, user: "admin", role: model.RoleAdmin}, http.StatusBadRequest, model.KindInvalidAmount},
		{"overdraw", call{method: http.MethodPost, path: "/admin/withdrawals", body: `{"user_id":"u1","amount_cents":5,"idempotency_key":"w"}`, user: "admin", role: model.RoleAdmin}, http.StatusPaymentRequired, model.KindInsufficientFunds},
		{"settle early", call{method: http.MethodPost, path: "/admin/sessions/" + sid + "/settle", user: "admin", role: model.RoleAdmin}, http.StatusConflict, model.KindInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, tc.c)
			expect(t, rec, tc.code)
			var out struct {
				Error string `json:"error"`
			}
			decode(t, rec, &out)
			if out.Error != string(tc.kind) {
				t.Fatalf("error = %q, want %q", out.Error, tc.kind)
			}
		})
	}
}

func TestDepositIdempotent(t *testing.T) {
	a := buildTestApp(t)
	body := `{"user_id":"u1","amount_cents":700,"idempotency_key":"d1"}`
	admin := call{method: http.MethodPost, path: "/admin/deposits", body: body, user: "admin", role: model.RoleAdmin}
	expect(t, a.do(t, admin), http.StatusCreated)
	rec := a.do(t, admin)
	expect(t, rec, http.StatusCreated)
	if rec.Header().Get(handler.HeaderReplayed) != "true" {
		t.Fatal("second deposit was not a replay")
	}
	if b := a.eng.Balance("u1"); b.PostedCents != 700 {
		t.Fatalf("balance = %+v", b)
	}
	admin.body = `{"user_id":"u1","amount_cents":800,"idempotency_key":"d1"}`
	expect(t, a.do(t, admin), http.StatusConflict)

	rec = a.do(t, call{method: http.MethodGet, path: "/admin/users/u1/wallet", user: "admin", role: model.RoleAdmin})
	expect(t, rec, http.StatusOK)
	var w struct {
		Balance model.Balance       `json:"balance"`
		Ledger  []model.LedgerEntry `json:"ledger"`
	}
	decode(t, rec, &w)
	if w.Balance.AvailableCents != 700 || len(w.Ledger) != 1 || w.Ledger[0].Kind != model.EntryDeposit {
		t.Fatalf("wallet = %+v", w)
	}
}

func TestSessionEventStream(t *testing.T) {
	a := buildTestApp(t)
	sid := a.createSession(t, 2)
	srv := httptest.NewServer(a.e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/sessions/"+sid, nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, "u1", model.RoleUser))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)
	next := func() string {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}
	want := `{"topic":"session:` + sid + `"}`
	if got := next(); got != want {
		t.Fatalf("initial = %s", got)
	}

	for a.hub.Subscribers(events.SessionTopic(sid)) == 0 {
		time.Sleep(time.Millisecond)
	}
	body := `{"capacity":3}`
	expect(t, a.do(t, call{method: http.MethodPatch, path: "/admin/sessions/" + sid, body: body, user: "admin", role: model.RoleAdmin}), http.StatusOK)
	if got := next(); got != want {
		t.Fatalf("change = %s", got)
	}
}
