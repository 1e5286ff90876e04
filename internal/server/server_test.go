package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/contract"
	"github.com/atmx/futurebureau/internal/custody"
	"github.com/atmx/futurebureau/internal/events"
	"github.com/atmx/futurebureau/internal/ledger"
	"github.com/atmx/futurebureau/internal/server"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type recorder struct {
	mu  sync.Mutex
	got []events.Envelope
}

func (r *recorder) Publish(_ context.Context, envs []events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, envs...)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, e := range r.got {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	srv    *server.Server
	inv    *custody.MemoryInvoker
	pub    *recorder
	router chi.Router
}

// newTestEnv creates an initialized host with in-memory ledger and custody
// and a faucet of 100 GZH per registered user.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	inv := custody.NewMemoryInvoker()
	inv.SetTokenInfo(custody.TokenInfo{Name: "GZH", Symbol: "GZH", Decimals: 2, GasPercentage: d(0.01), GasMin: d(0)})
	pub := &recorder{}
	srv := server.New(ledger.NewMemoryLedger(), inv, "earth", contract.DefaultConfig(), pub)
	srv.SetFaucet(d(100))
	if resp := srv.Init(context.Background()); !resp.OK {
		t.Fatalf("init: %s", resp.Error)
	}

	r := chi.NewRouter()
	r.Route("/api/v1", srv.Routes)
	return &testEnv{srv: srv, inv: inv, pub: pub, router: r}
}

func (e *testEnv) invoke(t *testing.T, caller, function string, args ...any) (*httptest.ResponseRecorder, contract.Response) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"args": args})
	req := httptest.NewRequest("POST", "/api/v1/invoke/"+function, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(server.CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp contract.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("%s: decode response: %v", function, err)
	}
	return w, resp
}

func (e *testEnv) mustOK(t *testing.T, caller, function string, args ...any) contract.Response {
	t.Helper()
	w, resp := e.invoke(t, caller, function, args...)
	if w.Code != http.StatusOK || !resp.OK {
		t.Fatalf("%s %s: status %d: %s (%s)", caller, function, w.Code, resp.Error, resp.Code)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, caller, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if caller != "" {
		req.Header.Set(server.CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		e.mustOK(t, id, "user.create", id, id)
	}
}

// --- Invocation tests ---

func TestInvoke_RegisterFundsUser(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice")

	if !e.inv.Balance("alice", "GZH").Equal(d(100)) {
		t.Errorf("faucet should credit 100, got %s", e.inv.Balance("alice", "GZH"))
	}

	w := e.get(t, "", "/api/v1/custody/alice/GZH")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var bal struct {
		Balance decimal.Decimal `json:"balance"`
	}
	json.NewDecoder(w.Body).Decode(&bal)
	if !bal.Balance.Equal(d(100)) {
		t.Errorf("expected balance 100, got %s", bal.Balance)
	}

	types := e.pub.types()
	if len(types) != 1 || types[0] != "user.created" {
		t.Errorf("expected one user.created event, got %v", types)
	}
}

func TestInvoke_ErrorStatuses(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice")

	tests := []struct {
		name     string
		caller   string
		function string
		args     []any
		status   int
		code     string
	}{
		{"unknown function", "alice", "market.cancel", nil, http.StatusBadRequest, "validation"},
		{"wrong arity", "alice", "user.get", nil, http.StatusBadRequest, "validation"},
		{"no caller", "", "user.query", nil, http.StatusForbidden, "permission"},
		{"register someone else", "alice", "user.create", []any{"bob", "bob"}, http.StatusForbidden, "permission"},
		{"duplicate user", "alice", "user.create", []any{"alice", "alice"}, http.StatusConflict, "conflict"},
		{"missing market", "alice", "market.query", []any{"nope"}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := e.invoke(t, tt.caller, tt.function, tt.args...)
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, w.Code, resp.Error)
			}
			if resp.OK || resp.Code != tt.code {
				t.Errorf("expected code %s, got ok=%t code=%s", tt.code, resp.OK, resp.Code)
			}
		})
	}
}

func TestInvoke_InvalidBody(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/invoke/user.query", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestInvoke_MarketLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "bob", "judy")
	e.mustOK(t, "admin", "user.update", "alice", map[string]any{"canCreateNewFutureBureau": true})

	e.mustOK(t, "alice", "market.create", map[string]string{
		"name": "rain", "content": "Will it rain?", "endTime": "2026-12-01",
		"option1": "yes", "option2": "no", "option3": "maybe", "judgePerson": "judy",
	})
	e.mustOK(t, "alice", "market.bet", map[string]any{"futureBureauName": "rain", "chooseOption": "option1", "amount": "10"})
	e.mustOK(t, "bob", "market.bet", map[string]any{"futureBureauName": "rain", "chooseOption": "option2", "amount": "10"})

	if !e.inv.Balance("futurebureau", "GZH").Equal(d(20)) {
		t.Fatalf("escrow should hold 20, got %s", e.inv.Balance("futurebureau", "GZH"))
	}

	w := e.get(t, "", "/api/v1/markets/rain")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var q contract.Response
	json.NewDecoder(w.Body).Decode(&q)
	var view struct {
		Market map[string]any `json:"market"`
	}
	json.Unmarshal(q.Payload, &view)
	if view.Market["count"] != "20" {
		t.Errorf("expected pool 20, got %v", view.Market["count"])
	}

	e.mustOK(t, "judy", "market.judge", "rain", "option1")
	e.mustOK(t, "judy", "market.settle", "rain")

	// 10 * 20 / 10 = 20 gross, 1% gas.
	if !e.inv.Balance("alice", "GZH").Equal(d(109.8)) {
		t.Errorf("alice should hold 90+19.8, got %s", e.inv.Balance("alice", "GZH"))
	}
	if !e.inv.Balance("bob", "GZH").Equal(d(90)) {
		t.Errorf("bob should hold 90, got %s", e.inv.Balance("bob", "GZH"))
	}

	w, resp := e.invoke(t, "judy", "market.settle", "rain")
	if w.Code != http.StatusConflict || resp.Code != "already_settled" {
		t.Errorf("second settle: expected 409 already_settled, got %d %s", w.Code, resp.Code)
	}

	want := []string{"user.created", "user.created", "user.created", "user.updated",
		"market.created", "market.bet", "market.bet", "market.judged", "market.settled"}
	got := e.pub.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestInvoke_FailureRollsBackCustody(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice", "bob", "judy")
	e.mustOK(t, "admin", "user.update", "alice", map[string]any{"canCreateNewFutureBureau": true})
	e.mustOK(t, "alice", "market.create", map[string]string{
		"name": "rain", "content": "Will it rain?", "endTime": "2026-12-01",
		"option1": "yes", "option2": "no", "option3": "maybe", "judgePerson": "judy",
	})
	e.mustOK(t, "alice", "market.bet", map[string]any{"futureBureauName": "rain", "chooseOption": "option1", "amount": "10"})
	e.mustOK(t, "bob", "market.bet", map[string]any{"futureBureauName": "rain", "chooseOption": "option1", "amount": "30"})
	e.mustOK(t, "judy", "market.judge", "rain", "option1")

	w, resp := e.invoke(t, "alice", "market.bet", map[string]any{"futureBureauName": "rain", "chooseOption": "option1", "amount": "500"})
	if w.Code != http.StatusConflict || resp.Code != "already_judged" {
		t.Errorf("bet after judge: expected 409 already_judged, got %d %s", w.Code, resp.Code)
	}

	// The second payout fails: the first one must be undone.
	e.inv.FailTransfer = func(req custody.TransferRequest) error {
		if req.Target == "bob" {
			return custody.ErrContract
		}
		return nil
	}
	w, resp = e.invoke(t, "judy", "market.settle", "rain")
	if w.Code != http.StatusBadGateway || resp.Code != "settlement" {
		t.Fatalf("expected 502 settlement, got %d %s: %s", w.Code, resp.Code, resp.Error)
	}
	if !e.inv.Balance("alice", "GZH").Equal(d(90)) {
		t.Errorf("alice payout should be rolled back, got %s", e.inv.Balance("alice", "GZH"))
	}
	if !e.inv.Balance("futurebureau", "GZH").Equal(d(40)) {
		t.Errorf("escrow should still hold 40, got %s", e.inv.Balance("futurebureau", "GZH"))
	}

	e.inv.FailTransfer = nil
	e.mustOK(t, "judy", "market.settle", "rain")
	if !e.inv.Balance("bob", "GZH").Equal(d(99.7)) {
		t.Errorf("bob should hold 70+29.7, got %s", e.inv.Balance("bob", "GZH"))
	}
}

// --- Query routes ---

func TestQueryRoutes(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "alice")

	if w := e.get(t, "alice", "/api/v1/users/me"); w.Code != http.StatusOK {
		t.Errorf("users/me: expected 200, got %d", w.Code)
	}
	if w := e.get(t, "alice", "/api/v1/users/admin"); w.Code != http.StatusOK {
		t.Errorf("users/admin: expected 200, got %d", w.Code)
	}
	if w := e.get(t, "", "/api/v1/markets"); w.Code != http.StatusOK {
		t.Errorf("markets: expected 200, got %d", w.Code)
	}

	w := e.get(t, "", "/api/v1/functions")
	var fns []string
	json.NewDecoder(w.Body).Decode(&fns)
	if len(fns) != 12 {
		t.Errorf("expected 12 functions, got %v", fns)
	}
}

func TestCallerHeaderDistrust(t *testing.T) {
	e := newTestEnv(t)
	e.srv.SetTrustCallerHeader(false)
	w, resp := e.invoke(t, "alice", "user.create", "alice", "alice")
	if w.Code != http.StatusForbidden || resp.Code != "permission" {
		t.Errorf("untrusted header: expected 403 permission, got %d %s", w.Code, resp.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{"validation", http.StatusBadRequest},
		{"permission", http.StatusForbidden},
		{"not_found", http.StatusNotFound},
		{"conflict", http.StatusConflict},
		{"already_judged", http.StatusConflict},
		{"already_settled", http.StatusConflict},
		{"insufficient_balance", http.StatusUnprocessableEntity},
		{"settlement", http.StatusBadGateway},
		{"internal", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := server.StatusFor(contract.Response{Code: tt.code}); got != tt.status {
			t.Errorf("%s: expected %d, got %d", tt.code, tt.status, got)
		}
	}
	if got := server.StatusFor(contract.Response{OK: true}); got != http.StatusOK {
		t.Errorf("ok: expected 200, got %d", got)
	}
}
