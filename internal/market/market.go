// Package market is the wager market registry: creation, lookup, bet
// recording and judging. Markets share one global name namespace.
package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/access"
	"github.com/atmx/futurebureau/internal/model"
	"github.com/atmx/futurebureau/internal/store"
)

// CreateRequest is the market.create payload. option1..option3 are
// required; option4 and option5 are optional.
type CreateRequest struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	EndTime     string `json:"endTime"`
	Option1     string `json:"option1"`
	Option2     string `json:"option2"`
	Option3     string `json:"option3"`
	Option4     string `json:"option4,omitempty"`
	Option5     string `json:"option5,omitempty"`
	JudgePerson string `json:"judgePerson"`
	TokenName   string `json:"tokenName,omitempty"`
}

func (r CreateRequest) labels() []string {
	return []string{r.Option1, r.Option2, r.Option3, r.Option4, r.Option5}
}

// Validate checks required fields and option labels.
func (r CreateRequest) Validate() error {
	required := []struct{ field, value string }{
		{"name", r.Name},
		{"content", r.Content},
		{"endTime", r.EndTime},
		{"judgePerson", r.JudgePerson},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("%w: missing required property %s", model.ErrValidation, f.field)
		}
	}
	seen := make(map[string]string, model.MaxOptions)
	for i, l := range r.labels() {
		key := model.OptionKey(i)
		if l == "" {
			if i < model.MinOptions {
				return fmt.Errorf("%w: missing required property %s", model.ErrValidation, key)
			}
			continue
		}
		if prev, dup := seen[l]; dup {
			return fmt.Errorf("%w: %s duplicates %s label %q", model.ErrValidation, key, prev, l)
		}
		seen[l] = key
	}
	return nil
}

// Options returns the outcome slots up to the last populated one.
func (r CreateRequest) Options() []model.Outcome {
	labels := r.labels()
	n := 0
	for i, l := range labels {
		if l != "" {
			n = i + 1
		}
	}
	out := make([]model.Outcome, n)
	for i := 0; i < n; i++ {
		out[i] = model.Outcome{Label: labels[i], Pool: decimal.Zero}
	}
	return out
}

// Registry manages market records through the record codec.
type Registry struct {
	rec       *store.Records
	baseToken string
}

// NewRegistry creates a registry. Markets that name no token are staked in
// baseToken.
func NewRegistry(rec *store.Records, baseToken string) *Registry {
	return &Registry{rec: rec, baseToken: baseToken}
}

// BaseToken returns the default stake token.
func (r *Registry) BaseToken() string { return r.baseToken }

// Create persists a new Open market and registers its name in the index.
func (r *Registry) Create(ctx context.Context, creator string, req CreateRequest, ts int64) (*model.Market, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exists, err := r.rec.MarketExists(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: market %s already exists", model.ErrConflict, req.Name)
	}

	tokenName := req.TokenName
	if tokenName == "" {
		tokenName = r.baseToken
	}
	m := &model.Market{
		Name:        req.Name,
		Creator:     creator,
		Content:     req.Content,
		CreateTime:  ts,
		EndTime:     req.EndTime,
		TokenName:   tokenName,
		Options:     req.Options(),
		JudgePerson: req.JudgePerson,
		Result:      model.ResultUndecided,
		Count:       decimal.Zero,
		History:     []model.BetEntry{},
	}
	if err := r.rec.PutMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("persist market %s: %w", m.Name, err)
	}
	if err := r.rec.AddMarketName(ctx, m.Name); err != nil {
		return nil, fmt.Errorf("index market %s: %w", m.Name, err)
	}

	slog.Info("market created", "name", m.Name, "creator", creator, "options", len(m.Options), "token", tokenName, "judge", m.JudgePerson)
	return m, nil
}

// Exists reports whether a market record is stored under name.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	return r.rec.MarketExists(ctx, name)
}

// Get loads the canonical market record.
func (r *Registry) Get(ctx context.Context, name string) (*model.Market, error) {
	return r.rec.GetMarket(ctx, name)
}

// List returns every market in index order.
func (r *Registry) List(ctx context.Context) ([]*model.Market, error) {
	idx, err := r.rec.MarketIndex(ctx)
	if err != nil {
		return nil, err
	}
	markets := make([]*model.Market, 0, len(idx.BureauNames))
	for _, name := range idx.BureauNames {
		m, err := r.rec.GetMarket(ctx, name)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, nil
}

// Save persists m under its own key.
func (r *Registry) Save(ctx context.Context, m *model.Market) error {
	return r.rec.PutMarket(ctx, m)
}

// RecordBet appends bet to the market history and adds its amount to the
// chosen pool and the total. A chooseOption that names no defined outcome
// is kept in history without touching any counter. counted reports which
// branch was taken.
func (r *Registry) RecordBet(ctx context.Context, m *model.Market, bet model.BetEntry) (counted bool, err error) {
	if m.IsJudged() {
		return false, fmt.Errorf("%w: market %s is closed for bets", model.ErrAlreadyJudged, m.Name)
	}
	if bet.Amount.Sign() <= 0 {
		return false, fmt.Errorf("%w: bet amount must be positive", model.ErrValidation)
	}

	m.History = append(m.History, bet)
	m.AddUser(bet.From)
	if o, ok := m.Option(bet.ChooseOption); ok {
		o.Pool = o.Pool.Add(bet.Amount)
		m.Count = m.Count.Add(bet.Amount)
		counted = true
	} else {
		slog.Warn("bet on undefined option recorded without pool update", "market", m.Name, "option", bet.ChooseOption, "from", bet.From)
	}

	if err := r.rec.PutMarket(ctx, m); err != nil {
		return false, fmt.Errorf("persist market %s: %w", m.Name, err)
	}
	return counted, nil
}

// Judge records the winning option of an Open market. Only the market's
// judgePerson may judge, and only once.
func (r *Registry) Judge(ctx context.Context, caller access.Subject, name, result string) (*model.Market, error) {
	m, err := r.rec.GetMarket(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(access.OpMarketJudge, caller, access.Resource{OwnerID: m.Creator, JudgePerson: m.JudgePerson}); err != nil {
		return nil, err
	}
	if m.IsJudged() {
		return nil, fmt.Errorf("%w: market %s already resolved to %s", model.ErrAlreadyJudged, name, m.Result)
	}
	if _, ok := m.Option(result); !ok {
		return nil, fmt.Errorf("%w: %q is not an option of market %s", model.ErrValidation, result, name)
	}

	m.Result = result
	if err := r.rec.PutMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("persist market %s: %w", name, err)
	}
	slog.Info("market judged", "name", name, "result", result, "judge", caller.Name, "pool", m.Count, "winning_pool", m.Pool(result))
	return m, nil
}
