// Package contract is the invocation surface of the bureau contract. The
// host routes named functions with string arguments to Invoke, which runs
// one deterministic state transition over the ledger it was built on and
// returns a structured response.
package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/atmx/futurebureau/internal/custody"
	"github.com/atmx/futurebureau/internal/identity"
	"github.com/atmx/futurebureau/internal/ledger"
	"github.com/atmx/futurebureau/internal/market"
	"github.com/atmx/futurebureau/internal/model"
	"github.com/atmx/futurebureau/internal/odds"
	"github.com/atmx/futurebureau/internal/settlement"
	"github.com/atmx/futurebureau/internal/store"
	"github.com/atmx/futurebureau/internal/token"
	"github.com/atmx/futurebureau/internal/user"
)

// Config holds the bootstrap parameters of the contract.
type Config struct {
	BaseToken           string
	AdminID             string
	AdminName           string
	ContractAccountID   string
	ContractAccountName string
}

// DefaultConfig returns the stock bootstrap parameters.
func DefaultConfig() Config {
	return Config{
		BaseToken:           "GZH",
		AdminID:             "admin",
		AdminName:           "admin",
		ContractAccountID:   "futurebureau",
		ContractAccountName: "Dapp_futurebureau",
	}
}

// Invocation is one named call routed by the host. Timestamp is the
// transaction timestamp in milliseconds.
type Invocation struct {
	Function  string   `json:"function"`
	Args      []string `json:"args"`
	Timestamp int64    `json:"timestamp"`
}

// Event is emitted by a successful mutation.
type Event struct {
	Type    string          `json:"type"`
	Market  string          `json:"market,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the structured result of an invocation.
type Response struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Events  []Event         `json:"events,omitempty"`
}

// MarketView is the market.query payload.
type MarketView struct {
	Market *model.Market      `json:"market"`
	Quote  []odds.OptionQuote `json:"quote"`
}

// SettleView is the market.settle payload.
type SettleView struct {
	Market *model.Market    `json:"market"`
	Plan   *settlement.Plan `json:"plan"`
}

type handler func(ctx context.Context, inv Invocation) (any, []Event, error)

// Contract dispatches invocations to the user aggregate and registries.
type Contract struct {
	cfg      Config
	rec      *store.Records
	custody  *custody.Client
	users    *user.Service
	markets  *market.Registry
	handlers map[string]handler
}

// New builds a contract over l. Build one per invocation over that
// invocation's write buffer.
func New(l ledger.Ledger, c *custody.Client, ids identity.Resolver, cfg Config) *Contract {
	rec := store.New(l)
	markets := market.NewRegistry(rec, cfg.BaseToken)
	tokens := token.NewLedger(rec)
	settler := settlement.NewEngine(rec, c)
	ct := &Contract{
		cfg:     cfg,
		rec:     rec,
		custody: c,
		users:   user.NewService(rec, ids, tokens, markets, settler, c),
		markets: markets,
	}
	ct.handlers = map[string]handler{
		"user.create":    ct.userCreate,
		"user.query":     ct.userQuery,
		"user.get":       ct.userGet,
		"user.update":    ct.userUpdate,
		"token.create":   ct.tokenCreate,
		"token.transfer": ct.tokenTransfer,
		"market.create":  ct.marketCreate,
		"market.bet":     ct.marketBet,
		"market.judge":   ct.marketJudge,
		"market.settle":  ct.marketSettle,
		"market.query":   ct.marketQuery,
		"market.list":    ct.marketList,
	}
	return ct
}

// Functions lists the routable function names.
func (c *Contract) Functions() []string {
	names := make([]string, 0, len(c.handlers))
	for n := range c.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Init bootstraps the admin user, the escrow contract account and the
// market index. It is idempotent.
func (c *Contract) Init(ctx context.Context, inv Invocation) (resp Response) {
	defer recoverInto(&resp, "init")

	exists, err := c.rec.UserExists(ctx, c.cfg.AdminID)
	if err != nil {
		return failure(err)
	}
	if !exists {
		if _, err := c.users.Create(ctx, user.CreateRequest{ID: c.cfg.AdminID, Name: c.cfg.AdminName, Role: model.RoleAdmin}, true); err != nil {
			return failure(err)
		}
	}

	if _, err := c.rec.ContractAccount(ctx); err != nil {
		if !isNotFound(err) {
			return failure(err)
		}
		if err := c.rec.SetContractAccount(ctx, c.cfg.ContractAccountID); err != nil {
			return failure(err)
		}
		if err := c.custody.CreateAccount(ctx, c.cfg.ContractAccountID, c.cfg.ContractAccountName); err != nil {
			return failure(fmt.Errorf("create contract account: %w", err))
		}
		slog.Info("contract account created", "id", c.cfg.ContractAccountID, "custody", c.custody.ContractID())
	}

	idx, err := c.rec.MarketIndex(ctx)
	if err != nil {
		return failure(err)
	}
	slog.Info("contract initialized", "function", inv.Function, "admin", c.cfg.AdminID, "markets", len(idx.BureauNames))
	return success(map[string]any{
		"admin":     c.cfg.AdminID,
		"account":   c.cfg.ContractAccountID,
		"baseToken": c.cfg.BaseToken,
		"markets":   len(idx.BureauNames),
	}, nil)
}

// Invoke runs one function. It never panics; every failure is returned
// as a Response with ok=false and a stable code.
func (c *Contract) Invoke(ctx context.Context, inv Invocation) (resp Response) {
	defer recoverInto(&resp, inv.Function)

	h, ok := c.handlers[inv.Function]
	if !ok {
		return failure(fmt.Errorf("%w: unknown function %q", model.ErrValidation, inv.Function))
	}
	payload, events, err := h(ctx, inv)
	if err != nil {
		slog.Warn("invocation failed", "function", inv.Function, "code", model.Kind(err), "err", err)
		return failure(err)
	}
	return success(payload, events)
}

func success(payload any, events []Event) Response {
	data, err := json.Marshal(payload)
	if err != nil {
		return failure(fmt.Errorf("encode payload: %w", err))
	}
	return Response{OK: true, Payload: data, Events: events}
}

func failure(err error) Response {
	return Response{OK: false, Error: err.Error(), Code: model.Kind(err)}
}

func recoverInto(resp *Response, function string) {
	if r := recover(); r != nil {
		slog.Error("invocation panicked", "function", function, "panic", r, "stack", string(debug.Stack()))
		*resp = Response{OK: false, Error: fmt.Sprintf("internal error: %v", r), Code: "internal"}
	}
}
