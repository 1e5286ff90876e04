// Package server is the development host of the bureau contract. It gives
// the contract the execution environment a ledger platform would: a total
// order over invocations, one write buffer per invocation committed only on
// success, a transaction timestamp, and delivery of committed events.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/contract"
	"github.com/atmx/futurebureau/internal/custody"
	"github.com/atmx/futurebureau/internal/events"
	"github.com/atmx/futurebureau/internal/identity"
	"github.com/atmx/futurebureau/internal/ledger"
	"github.com/atmx/futurebureau/internal/metrics"
)

// CallerHeader carries the caller name when client certificates are not in
// use.
const CallerHeader = "X-Caller-Name"

// Server serializes invocations against one base ledger. For horizontal
// scaling the mutex would have to become a distributed lock or the ledger a
// real ordering service.
type Server struct {
	mu      sync.Mutex
	base    ledger.Ledger
	custody *custody.Client
	memory  *custody.MemoryInvoker // nil when custody is remote
	cfg     contract.Config
	pub     events.Publisher

	faucet      decimal.Decimal
	trustHeader bool
	now         func() int64
}

// New creates a host. Pass events.Nop{} when nothing consumes events.
// When inv is a *custody.MemoryInvoker its side effects are rolled back
// together with the write buffer of a failed invocation.
func New(base ledger.Ledger, inv custody.Invoker, custodyID string, cfg contract.Config, pub events.Publisher) *Server {
	if pub == nil {
		pub = events.Nop{}
	}
	s := &Server{
		base:        base,
		custody:     custody.NewClient(inv, custodyID),
		cfg:         cfg,
		pub:         pub,
		trustHeader: true,
		now:         func() int64 { return time.Now().UnixMilli() },
	}
	if m, ok := inv.(*custody.MemoryInvoker); ok {
		s.memory = m
	}
	return s
}

// SetFaucet makes the in-process custody contract credit amount of the base
// token to every newly registered user. Ignored for remote custody.
func (s *Server) SetFaucet(amount decimal.Decimal) {
	s.faucet = amount
}

// SetTrustCallerHeader controls whether the X-Caller-Name header is
// honoured for requests without a verified client certificate.
func (s *Server) SetTrustCallerHeader(trust bool) {
	s.trustHeader = trust
}

// Init bootstraps the contract as the configured admin.
func (s *Server) Init(ctx context.Context) contract.Response {
	return s.apply(ctx, s.cfg.AdminName, contract.Invocation{Function: "init"}, func(c *contract.Contract, ctx context.Context, inv contract.Invocation) contract.Response {
		return c.Init(ctx, inv)
	})
}

// Invoke runs one contract function on behalf of caller.
func (s *Server) Invoke(ctx context.Context, caller, function string, args []string) contract.Response {
	if args == nil {
		args = []string{}
	}
	return s.apply(ctx, caller, contract.Invocation{Function: function, Args: args}, func(c *contract.Contract, ctx context.Context, inv contract.Invocation) contract.Response {
		return c.Invoke(ctx, inv)
	})
}

type runFunc func(*contract.Contract, context.Context, contract.Invocation) contract.Response

func (s *Server) apply(ctx context.Context, caller string, inv contract.Invocation, run runFunc) contract.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	inv.Timestamp = s.now()

	txn := ledger.NewTxn(s.base)
	var snap custody.Snapshot
	if s.memory != nil {
		snap = s.memory.Snapshot()
	}

	c := contract.New(txn, s.custody, identity.ContextResolver{}, s.cfg)
	resp := run(c, identity.WithCaller(ctx, caller), inv)

	if resp.OK {
		if err := txn.Commit(ctx); err != nil {
			slog.Error("commit failed", "function", inv.Function, "err", err)
			resp = contract.Response{OK: false, Error: fmt.Sprintf("commit: %v", err), Code: "internal"}
		}
	} else {
		txn.Discard()
	}
	if !resp.OK && s.memory != nil {
		s.memory.Restore(snap)
	}

	code := resp.Code
	if resp.OK {
		code = "ok"
	}
	metrics.InvocationsTotal.WithLabelValues(inv.Function, code).Inc()
	metrics.InvocationLatency.WithLabelValues(inv.Function).Observe(time.Since(start).Seconds())

	if !resp.OK || len(resp.Events) == 0 {
		return resp
	}
	s.fundNewUsers(resp.Events)
	if err := s.pub.Publish(ctx, events.Wrap(inv, caller, resp.Events)); err != nil {
		slog.Warn("event publish failed", "function", inv.Function, "err", err)
	}
	return resp
}

func (s *Server) fundNewUsers(evs []contract.Event) {
	if s.memory == nil || !s.faucet.IsPositive() {
		return
	}
	for _, e := range evs {
		if e.Type != "user.created" {
			continue
		}
		var u struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(e.Payload, &u); err != nil || u.ID == "" {
			continue
		}
		s.memory.Mint(u.ID, s.cfg.BaseToken, s.faucet)
		slog.Info("faucet credited", "user", u.ID, "token", s.cfg.BaseToken, "amount", s.faucet.String())
	}
}

// --- HTTP ---

// InvokeRequest is the JSON body of POST /api/v1/invoke/{function}.
// Each argument may be a JSON string or any other JSON value, which is
// passed to the contract as its raw JSON text.
type InvokeRequest struct {
	Args []json.RawMessage `json:"args"`
}

// StringArgs converts the request arguments to the contract's string arguments.
func (r InvokeRequest) StringArgs() ([]string, error) {
	out := make([]string, 0, len(r.Args))
	for i, raw := range r.Args {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			out = append(out, s)
			continue
		}
		out = append(out, string(raw))
	}
	return out, nil
}

// Routes mounts the host API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/functions", s.ListFunctions)
	r.Post("/invoke/{function}", s.HandleInvoke)

	r.Get("/markets", s.query("market.list"))
	r.Get("/markets/{name}", s.query("market.query", "name"))
	r.Get("/users/me", s.query("user.query"))
	r.Get("/users/{id}", s.query("user.get", "id"))

	if s.memory != nil {
		r.Get("/custody/{account}/{symbol}", s.CustodyBalance)
	}
}

// HandleInvoke handles POST /api/v1/invoke/{function}.
func (s *Server) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	var req InvokeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	args, err := req.StringArgs()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := s.Invoke(r.Context(), s.callerName(r), chi.URLParam(r, "function"), args)
	writeResponse(w, resp)
}

// query builds a GET handler that invokes function with the named URL
// parameters as arguments.
func (s *Server) query(function string, params ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args := make([]string, 0, len(params))
		for _, p := range params {
			args = append(args, chi.URLParam(r, p))
		}
		writeResponse(w, s.Invoke(r.Context(), s.callerName(r), function, args))
	}
}

// ListFunctions handles GET /api/v1/functions.
func (s *Server) ListFunctions(w http.ResponseWriter, _ *http.Request) {
	c := contract.New(ledger.NewMemoryLedger(), s.custody, identity.ContextResolver{}, s.cfg)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(c.Functions())
}

// CustodyBalance handles GET /api/v1/custody/{account}/{symbol} for the
// in-process custody contract.
func (s *Server) CustodyBalance(w http.ResponseWriter, r *http.Request) {
	account, symbol := chi.URLParam(r, "account"), chi.URLParam(r, "symbol")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"account": account,
		"symbol":  symbol,
		"balance": s.memory.Balance(account, symbol),
	})
}

// callerName prefers the verified client certificate CN and falls back to
// the caller header when trusted.
func (s *Server) callerName(r *http.Request) string {
	if cn := identity.PeerCommonName(r.TLS); cn != "" {
		return cn
	}
	if s.trustHeader {
		return r.Header.Get(CallerHeader)
	}
	return ""
}

// StatusFor maps a response code to an HTTP status.
func StatusFor(resp contract.Response) int {
	if resp.OK {
		return http.StatusOK
	}
	switch resp.Code {
	case "validation":
		return http.StatusBadRequest
	case "permission":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "conflict", "already_judged", "already_settled":
		return http.StatusConflict
	case "insufficient_balance":
		return http.StatusUnprocessableEntity
	case "settlement":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeResponse(w http.ResponseWriter, resp contract.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(resp))
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// IsClosed reports whether err is the normal result of shutting down an
// http.Server.
func IsClosed(err error) bool { return errors.Is(err, http.ErrServerClosed) }
