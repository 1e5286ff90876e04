package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atmx/futurebureau/internal/market"
	"github.com/atmx/futurebureau/internal/model"
	"github.com/atmx/futurebureau/internal/odds"
	"github.com/atmx/futurebureau/internal/token"
	"github.com/atmx/futurebureau/internal/user"
)

func wantArgs(inv Invocation, n int) error {
	if len(inv.Args) != n {
		return fmt.Errorf("%w: %s requires %d argument(s), got %d", model.ErrValidation, inv.Function, n, len(inv.Args))
	}
	return nil
}

func decodeArg(inv Invocation, v any) error {
	if err := wantArgs(inv, 1); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(inv.Args[0]), v); err != nil {
		return fmt.Errorf("%w: cannot parse %s request: %v", model.ErrValidation, inv.Function, err)
	}
	return nil
}

func event(typ, marketName string, v any) Event {
	data, _ := json.Marshal(v)
	return Event{Type: typ, Market: marketName, Payload: data}
}

func isNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }

// --- user.* ---

// user.create(id, name)
func (c *Contract) userCreate(ctx context.Context, inv Invocation) (any, []Event, error) {
	if err := wantArgs(inv, 2); err != nil {
		return nil, nil, err
	}
	u, err := c.users.Create(ctx, user.CreateRequest{ID: inv.Args[0], Name: inv.Args[1]}, false)
	if err != nil {
		return nil, nil, err
	}
	return u, []Event{event("user.created", "", map[string]string{"id": u.ID, "name": u.Name})}, nil
}

// user.query()
func (c *Contract) userQuery(ctx context.Context, inv Invocation) (any, []Event, error) {
	if err := wantArgs(inv, 0); err != nil {
		return nil, nil, err
	}
	u, err := c.users.Query(ctx)
	return u, nil, err
}

// user.get(id)
func (c *Contract) userGet(ctx context.Context, inv Invocation) (any, []Event, error) {
	if err := wantArgs(inv, 1); err != nil {
		return nil, nil, err
	}
	u, err := c.users.Get(ctx, inv.Args[0])
	return u, nil, err
}

// user.update(id, patchJSON)
func (c *Contract) userUpdate(ctx context.Context, inv Invocation) (any, []Event, error) {
	if err := wantArgs(inv, 2); err != nil {
		return nil, nil, err
	}
	patch, err := user.ParsePatch([]byte(inv.Args[1]))
	if err != nil {
		return nil, nil, err
	}
	u, err := c.users.Update(ctx, inv.Args[0], patch)
	if err != nil {
		return nil, nil, err
	}
	return u, []Event{event("user.updated", "", map[string]any{
		"id":                       u.ID,
		"role":                     u.Role,
		"canCreateNewFutureBureau": u.CanCreateMarket,
		"canCreateNewToken":        u.CanCreateToken,
	})}, nil
}

// --- token.* ---

// token.create({name, symbol, decimals, amount})
func (c *Contract) tokenCreate(ctx context.Context, inv Invocation) (any, []Event, error) {
	var req token.CreateRequest
	if err := decodeArg(inv, &req); err != nil {
		return nil, nil, err
	}
	u, err := c.users.CreateToken(ctx, req, inv.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	return u, []Event{event("token.created", "", req)}, nil
}

// token.transfer({target, tokenName, amount})
func (c *Contract) tokenTransfer(ctx context.Context, inv Invocation) (any, []Event, error) {
	var req user.TransferRequest
	if err := decodeArg(inv, &req); err != nil {
		return nil, nil, err
	}
	u, err := c.users.Transfer(ctx, req, inv.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	return u, []Event{event("token.transferred", "", map[string]any{
		"from":      u.ID,
		"target":    req.Target,
		"tokenName": req.TokenName,
		"amount":    req.Amount,
	})}, nil
}

// --- market.* ---

// market.create({name, content, endTime, option1..option5, judgePerson, tokenName})
func (c *Contract) marketCreate(ctx context.Context, inv Invocation) (any, []Event, error) {
	var req market.CreateRequest
	if err := decodeArg(inv, &req); err != nil {
		return nil, nil, err
	}
	m, err := c.users.CreateMarket(ctx, req, inv.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	return m, []Event{event("market.created", m.Name, m)}, nil
}

// market.bet({futureBureauName, chooseOption, tokenName, amount})
func (c *Contract) marketBet(ctx context.Context, inv Invocation) (any, []Event, error) {
	var req user.BetRequest
	if err := decodeArg(inv, &req); err != nil {
		return nil, nil, err
	}
	m, err := c.users.BetTransfer(ctx, req, inv.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	bet := m.History[len(m.History)-1]
	return m, []Event{event("market.bet", m.Name, map[string]any{
		"bet":   bet,
		"quote": odds.Quote(m),
	})}, nil
}

// market.judge(name, result)
func (c *Contract) marketJudge(ctx context.Context, inv Invocation) (any, []Event, error) {
	if err := wantArgs(inv, 2); err != nil {
		return nil, nil, err
	}
	m, err := c.users.Judge(ctx, inv.Args[0], inv.Args[1])
	if err != nil {
		return nil, nil, err
	}
	return m, []Event{event("market.judged", m.Name, map[string]string{"result": m.Result})}, nil
}

// market.settle(name)
func (c *Contract) marketSettle(ctx context.Context, inv Invocation) (any, []Event, error) {
	if err := wantArgs(inv, 1); err != nil {
		return nil, nil, err
	}
	m, plan, err := c.users.Settle(ctx, inv.Args[0], inv.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	return SettleView{Market: m, Plan: plan}, []Event{event("market.settled", m.Name, plan)}, nil
}

// market.query(name)
func (c *Contract) marketQuery(ctx context.Context, inv Invocation) (any, []Event, error) {
	if err := wantArgs(inv, 1); err != nil {
		return nil, nil, err
	}
	m, err := c.markets.Get(ctx, inv.Args[0])
	if err != nil {
		return nil, nil, err
	}
	return MarketView{Market: m, Quote: odds.Quote(m)}, nil, nil
}

// market.list()
func (c *Contract) marketList(ctx context.Context, inv Invocation) (any, []Event, error) {
	if err := wantArgs(inv, 0); err != nil {
		return nil, nil, err
	}
	markets, err := c.markets.List(ctx)
	return markets, nil, err
}
