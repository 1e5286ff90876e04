// Package settlement distributes the pool of a judged market to the
// bettors of the winning option, net of the custody contract's gas fee.
//
// Settlement runs in two steps. Compute derives a deterministic payout plan
// from the market alone. Engine.Settle issues one custody transfer per paid
// bettor and marks the market settled only when every transfer succeeded.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/custody"
	"github.com/atmx/futurebureau/internal/metrics"
	"github.com/atmx/futurebureau/internal/model"
	"github.com/atmx/futurebureau/internal/odds"
	"github.com/atmx/futurebureau/internal/store"
)

var (
	// ErrNotJudged is returned when settling a market that is still Open.
	ErrNotJudged = errors.New("settlement: market has not been judged")

	referenceSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("futurebureau/settlement"))
)

// Payout is the settlement of one winning bettor.
type Payout struct {
	Target    string          `json:"target"`
	Stake     decimal.Decimal `json:"stake"`
	Gross     decimal.Decimal `json:"gross"`
	Gas       decimal.Decimal `json:"gas"`
	Net       decimal.Decimal `json:"net"`
	Reference string          `json:"reference"`
}

// Plan is the full, deterministic outcome of settling a market.
type Plan struct {
	Market      string          `json:"market"`
	Result      string          `json:"result"`
	Token       string          `json:"token"`
	Total       decimal.Decimal `json:"total"`
	WinningPool decimal.Decimal `json:"winningPool"`
	Rate        decimal.Decimal `json:"rate"`
	Payouts     []Payout        `json:"payouts"`
	Skipped     []Payout        `json:"skipped"`
	TotalGross  decimal.Decimal `json:"totalGross"`
	TotalNet    decimal.Decimal `json:"totalNet"`
	TotalGas    decimal.Decimal `json:"totalGas"`
}

// Compute builds the payout plan of a judged market.
//
// Stakes on the winning option are summed per bettor in first-appearance
// order of the history. Each bettor's gross payout is stake*total/pool
// truncated to the token precision; gas is gross*gasPercentage truncated
// the same way. A bettor whose gross payout does not exceed gasMin, or
// whose net payout is zero, is skipped.
func Compute(m *model.Market, info custody.TokenInfo) (*Plan, error) {
	if !m.IsJudged() {
		return nil, fmt.Errorf("%w: %w: %s", model.ErrValidation, ErrNotJudged, m.Name)
	}
	if _, ok := m.Option(m.Result); !ok {
		return nil, fmt.Errorf("%w: result %q is not an option of market %s", model.ErrValidation, m.Result, m.Name)
	}

	w := m.Result
	pool := m.Pool(w)
	plan := &Plan{
		Market:      m.Name,
		Result:      w,
		Token:       m.TokenName,
		Total:       m.Count,
		WinningPool: pool,
		Rate:        odds.Rate(m.Count, pool),
		Payouts:     []Payout{},
		Skipped:     []Payout{},
		TotalGross:  decimal.Zero,
		TotalNet:    decimal.Zero,
		TotalGas:    decimal.Zero,
	}
	if pool.Sign() <= 0 {
		return plan, nil
	}

	var order []string
	stakes := make(map[string]decimal.Decimal)
	for _, e := range m.History {
		if e.ChooseOption != w {
			continue
		}
		s, seen := stakes[e.From]
		if !seen {
			order = append(order, e.From)
		}
		stakes[e.From] = s.Add(e.Amount)
	}

	places := info.Decimals
	for _, target := range order {
		stake := stakes[target]
		gross := odds.Payout(stake, m.Count, pool, places)
		gas := gross.Mul(info.GasPercentage).Truncate(places)
		net := decimal.Max(gross.Sub(gas), decimal.Zero)
		p := Payout{
			Target:    target,
			Stake:     stake,
			Gross:     gross,
			Gas:       gas,
			Net:       net,
			Reference: Reference(m.Name, target).String(),
		}
		if gross.LessThanOrEqual(info.GasMin) || net.Sign() <= 0 {
			plan.Skipped = append(plan.Skipped, p)
			continue
		}
		plan.Payouts = append(plan.Payouts, p)
		plan.TotalGross = plan.TotalGross.Add(gross)
		plan.TotalNet = plan.TotalNet.Add(net)
		plan.TotalGas = plan.TotalGas.Add(gas)
	}
	return plan, nil
}

// Reference is the deterministic transfer reference of a payout.
func Reference(marketName, target string) uuid.UUID {
	return uuid.NewSHA1(referenceSpace, []byte(marketName+"\x00"+target))
}

// Engine executes settlement plans against the custody contract.
type Engine struct {
	rec     *store.Records
	custody *custody.Client
}

// NewEngine creates a settlement engine.
func NewEngine(rec *store.Records, c *custody.Client) *Engine {
	return &Engine{rec: rec, custody: c}
}

// Settle pays out the named judged market from the escrow account. Any
// failed transfer aborts the attempt with a *model.SettlementError and
// leaves the market unsettled; the caller discards the invocation's writes
// and may retry the whole settlement.
func (e *Engine) Settle(ctx context.Context, name string, ts int64) (*model.Market, *Plan, error) {
	m, err := e.rec.GetMarket(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if m.Settled {
		return nil, nil, fmt.Errorf("%w: market %s settled at %d", model.ErrAlreadySettled, name, m.SettledAt)
	}
	if !m.IsJudged() {
		return nil, nil, fmt.Errorf("%w: %w: %s", model.ErrValidation, ErrNotJudged, name)
	}

	info, err := e.custody.TokenInfo(ctx, m.TokenName)
	if err != nil {
		return nil, nil, &model.SettlementError{Market: name, Target: "token.getInfo", Err: err}
	}
	plan, err := Compute(m, *info)
	if err != nil {
		return nil, nil, err
	}

	escrow := ""
	if len(plan.Payouts) > 0 {
		if escrow, err = e.rec.ContractAccount(ctx); err != nil {
			return nil, nil, err
		}
	}
	for _, p := range plan.Payouts {
		_, err := e.custody.Transfer(ctx, custody.TransferRequest{
			Symbol:      info.Symbol,
			From:        escrow,
			Target:      p.Target,
			Amount:      p.Net,
			Description: fmt.Sprintf("futurebureau %s payout %s", name, p.Reference),
		})
		if err != nil {
			metrics.SettlementsTotal.WithLabelValues("failed").Inc()
			slog.Error("settlement transfer failed", "market", name, "target", p.Target, "amount", p.Net, "err", err)
			return nil, nil, &model.SettlementError{Market: name, Target: p.Target, Err: err}
		}
	}

	m.Settled = true
	m.SettledAt = ts
	if err := e.rec.PutMarket(ctx, m); err != nil {
		return nil, nil, fmt.Errorf("persist market %s: %w", name, err)
	}

	outcome := "paid"
	if len(plan.Payouts) == 0 {
		outcome = "empty"
	}
	metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	metrics.PayoutsTotal.WithLabelValues("paid").Add(float64(len(plan.Payouts)))
	metrics.PayoutsTotal.WithLabelValues("dust").Add(float64(len(plan.Skipped)))
	metrics.PayoutVolume.WithLabelValues(m.TokenName).Add(plan.TotalNet.InexactFloat64())
	metrics.GasCollected.WithLabelValues(m.TokenName).Add(plan.TotalGas.InexactFloat64())

	slog.Info("market settled",
		"name", name,
		"result", plan.Result,
		"rate", plan.Rate,
		"paid", len(plan.Payouts),
		"skipped", len(plan.Skipped),
		"net", plan.TotalNet,
		"gas", plan.TotalGas,
	)
	return m, plan, nil
}
