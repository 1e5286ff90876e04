// Package user is the identity-keyed aggregate of a wallet and a bureau.
// It orchestrates token, market and settlement operations on behalf of the
// calling principal and keeps each holder's bureau snapshots current.
package user

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/access"
	"github.com/atmx/futurebureau/internal/custody"
	"github.com/atmx/futurebureau/internal/identity"
	"github.com/atmx/futurebureau/internal/market"
	"github.com/atmx/futurebureau/internal/metrics"
	"github.com/atmx/futurebureau/internal/model"
	"github.com/atmx/futurebureau/internal/settlement"
	"github.com/atmx/futurebureau/internal/store"
	"github.com/atmx/futurebureau/internal/token"
)

// CreateRequest registers a user. Role is honored for bootstrap only.
type CreateRequest struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Role model.Role `json:"role,omitempty"`
}

// TransferRequest moves wallet tokens to another user.
type TransferRequest struct {
	Target    string          `json:"target"`
	TokenName string          `json:"tokenName"`
	Amount    decimal.Decimal `json:"amount"`
}

// BetRequest stakes amount of tokenName on one option of a market.
type BetRequest struct {
	FutureBureauName string          `json:"futureBureauName"`
	ChooseOption     string          `json:"chooseOption"`
	TokenName        string          `json:"tokenName,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
}

// Service implements the user aggregate.
type Service struct {
	rec     *store.Records
	ids     identity.Resolver
	tokens  *token.Ledger
	markets *market.Registry
	settler *settlement.Engine
	custody *custody.Client
}

// NewService wires the aggregate.
func NewService(rec *store.Records, ids identity.Resolver, tokens *token.Ledger, markets *market.Registry, settler *settlement.Engine, c *custody.Client) *Service {
	return &Service{rec: rec, ids: ids, tokens: tokens, markets: markets, settler: settler, custody: c}
}

// caller resolves the calling principal and its user record.
func (s *Service) caller(ctx context.Context) (*model.User, access.Subject, error) {
	name, err := s.ids.CurrentCallerName(ctx)
	if err != nil {
		return nil, access.Subject{}, err
	}
	u, err := s.rec.GetUser(ctx, name)
	if err != nil {
		return nil, access.SubjectOf(name, nil), err
	}
	return u, access.SubjectOf(name, u), nil
}

// Create registers a new user with an empty wallet and bureau. Outside
// bootstrap a principal may only register its own identity, as a plain
// user.
func (s *Service) Create(ctx context.Context, req CreateRequest, bootstrap bool) (*model.User, error) {
	if req.ID == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: user id and name are required", model.ErrValidation)
	}
	subj := access.Subject{Bootstrap: bootstrap}
	if !bootstrap {
		name, err := s.ids.CurrentCallerName(ctx)
		if err != nil {
			return nil, err
		}
		subj.Name = name
	}
	if err := access.Authorize(access.OpUserCreate, subj, access.Resource{OwnerID: req.ID}); err != nil {
		return nil, err
	}

	exists, err := s.rec.UserExists(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: user %s already exists", model.ErrConflict, req.ID)
	}

	u := &model.User{
		ID:     req.ID,
		Name:   req.Name,
		Role:   model.RoleUser,
		Wallet: model.Wallet{},
		Bureau: model.Bureau{},
	}
	if bootstrap && req.Role != "" {
		if !req.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", model.ErrValidation, req.Role)
		}
		u.Role = req.Role
	}
	if bootstrap && u.Role == model.RoleAdmin {
		u.CanCreateMarket = true
		u.CanCreateToken = true
	}
	if err := s.rec.PutUser(ctx, u); err != nil {
		return nil, fmt.Errorf("persist user %s: %w", u.ID, err)
	}
	slog.Info("user created", "id", u.ID, "name", u.Name, "role", u.Role, "bootstrap", bootstrap)
	return u, nil
}

// Query returns the caller's own record.
func (s *Service) Query(ctx context.Context) (*model.User, error) {
	u, _, err := s.caller(ctx)
	return u, err
}

// Get returns the record of any user.
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrValidation)
	}
	return s.rec.GetUser(ctx, id)
}

// Patch is an admin update of role and permission fields.
type Patch struct {
	Role            *model.Role `json:"role,omitempty"`
	CanCreateMarket *bool       `json:"canCreateNewFutureBureau,omitempty"`
	CanCreateToken  *bool       `json:"canCreateNewToken,omitempty"`
}

// ParsePatch decodes an update patch, rejecting immutable and unknown fields.
func ParsePatch(data []byte) (Patch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Patch{}, fmt.Errorf("%w: patch is not a JSON object: %v", model.ErrValidation, err)
	}
	for k := range fields {
		switch k {
		case "role", "canCreateNewFutureBureau", "canCreateNewToken":
		case "id", "name", "wallet", "bureau":
			return Patch{}, fmt.Errorf("%w: field %s cannot be updated", model.ErrValidation, k)
		default:
			return Patch{}, fmt.Errorf("%w: unknown field %s", model.ErrValidation, k)
		}
	}
	var p Patch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	if p.Role != nil && !p.Role.Valid() {
		return Patch{}, fmt.Errorf("%w: unknown role %q", model.ErrValidation, *p.Role)
	}
	return p, nil
}

// Update applies an admin patch to targetID.
func (s *Service) Update(ctx context.Context, targetID string, p Patch) (*model.User, error) {
	_, subj, err := s.caller(ctx)
	if err != nil {
		return nil, permissionIfMissing(err)
	}
	if err := access.Authorize(access.OpUserUpdate, subj, access.Resource{OwnerID: targetID}); err != nil {
		return nil, err
	}
	u, err := s.rec.GetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.CanCreateMarket != nil {
		u.CanCreateMarket = *p.CanCreateMarket
	}
	if p.CanCreateToken != nil {
		u.CanCreateToken = *p.CanCreateToken
	}
	if err := s.rec.PutUser(ctx, u); err != nil {
		return nil, err
	}
	slog.Info("user updated", "id", u.ID, "by", subj.Name, "role", u.Role, "can_create_market", u.CanCreateMarket, "can_create_token", u.CanCreateToken)
	return u, nil
}

// CreateToken issues a new token into the caller's wallet. The grant is
// consumed unless the caller is an admin.
func (s *Service) CreateToken(ctx context.Context, req token.CreateRequest, ts int64) (*model.User, error) {
	u, subj, err := s.caller(ctx)
	if err != nil {
		return nil, permissionIfMissing(err)
	}
	if err := access.Authorize(access.OpTokenCreate, subj, access.Resource{}); err != nil {
		return nil, err
	}
	if _, held := u.Wallet[req.Name]; held {
		return nil, fmt.Errorf("%w: wallet already holds token %s", model.ErrConflict, req.Name)
	}
	t, err := s.tokens.Create(ctx, u.ID, req, ts)
	if err != nil {
		return nil, err
	}
	u.Wallet[t.Name] = t
	if u.Role != model.RoleAdmin {
		u.CanCreateToken = false
	}
	if err := s.rec.PutUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Transfer moves tokens from the caller's wallet to the target user's.
// The total held across wallets is unchanged.
func (s *Service) Transfer(ctx context.Context, req TransferRequest, ts int64) (*model.User, error) {
	if req.Target == "" || req.TokenName == "" {
		return nil, fmt.Errorf("%w: target and tokenName are required", model.ErrValidation)
	}
	u, subj, err := s.caller(ctx)
	if err != nil {
		return nil, permissionIfMissing(err)
	}
	if err := access.Authorize(access.OpTransfer, subj, access.Resource{OwnerID: u.ID}); err != nil {
		return nil, err
	}
	if req.Target == u.ID {
		return nil, fmt.Errorf("%w: cannot transfer to self", model.ErrValidation)
	}
	target, err := s.rec.GetUser(ctx, req.Target)
	if err != nil {
		return nil, err
	}

	entry := model.TransferEntry{From: u.ID, To: target.ID, Amount: req.Amount, Timestamp: ts}
	if err := token.Expend(u.Wallet, req.TokenName, req.Amount, entry); err != nil {
		return nil, err
	}
	if err := s.tokens.Earn(ctx, target.Wallet, req.TokenName, req.Amount, entry); err != nil {
		return nil, err
	}
	if err := s.rec.PutUser(ctx, u); err != nil {
		return nil, err
	}
	if err := s.rec.PutUser(ctx, target); err != nil {
		return nil, err
	}
	slog.Info("token transferred", "token", req.TokenName, "from", u.ID, "to", target.ID, "amount", req.Amount)
	return u, nil
}

// CreateMarket creates a market as the caller and consumes its one-shot
// market creation grant.
func (s *Service) CreateMarket(ctx context.Context, req market.CreateRequest, ts int64) (*model.Market, error) {
	u, subj, err := s.caller(ctx)
	if err != nil {
		return nil, permissionIfMissing(err)
	}
	if err := access.Authorize(access.OpMarketCreate, subj, access.Resource{}); err != nil {
		return nil, err
	}
	m, err := s.markets.Create(ctx, u.ID, req, ts)
	if err != nil {
		return nil, err
	}
	u.CanCreateMarket = false
	if err := s.rec.PutUser(ctx, u); err != nil {
		return nil, err
	}
	if err := s.refreshBureaus(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// BetTransfer escrows the stake with the custody contract and records the
// bet on the market.
func (s *Service) BetTransfer(ctx context.Context, req BetRequest, ts int64) (*model.Market, error) {
	if req.FutureBureauName == "" || req.ChooseOption == "" {
		return nil, fmt.Errorf("%w: futureBureauName and chooseOption are required", model.ErrValidation)
	}
	u, subj, err := s.caller(ctx)
	if err != nil {
		return nil, permissionIfMissing(err)
	}
	if err := access.Authorize(access.OpMarketBet, subj, access.Resource{}); err != nil {
		return nil, err
	}
	m, err := s.markets.Get(ctx, req.FutureBureauName)
	if err != nil {
		return nil, err
	}
	if m.IsJudged() {
		return nil, fmt.Errorf("%w: market %s is closed for bets", model.ErrAlreadyJudged, m.Name)
	}
	if _, ok := m.Option(req.ChooseOption); !ok {
		return nil, fmt.Errorf("%w: %q is not an option of market %s", model.ErrValidation, req.ChooseOption, m.Name)
	}
	tokenName := req.TokenName
	if tokenName == "" {
		tokenName = m.TokenName
	}
	if tokenName != m.TokenName {
		return nil, fmt.Errorf("%w: market %s is staked in %s, not %s", model.ErrValidation, m.Name, m.TokenName, tokenName)
	}

	info, err := s.custody.TokenInfo(ctx, tokenName)
	if err != nil {
		return nil, err
	}
	if err := token.CheckAmount(req.Amount, info.Decimals); err != nil {
		return nil, err
	}
	escrow, err := s.rec.ContractAccount(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.custody.Transfer(ctx, custody.TransferRequest{
		Symbol:      info.Symbol,
		From:        u.ID,
		Target:      escrow,
		Amount:      req.Amount,
		Description: fmt.Sprintf("futurebureau %s bet on %s", m.Name, req.ChooseOption),
	}); err != nil {
		return nil, fmt.Errorf("%w: escrow stake: %w", model.ErrInsufficientBalance, err)
	}

	counted, err := s.markets.RecordBet(ctx, m, model.BetEntry{
		From:         u.ID,
		TokenName:    tokenName,
		ChooseOption: req.ChooseOption,
		Amount:       req.Amount,
		Timestamp:    ts,
	})
	if err != nil {
		return nil, err
	}
	metrics.BetsTotal.WithLabelValues(fmt.Sprint(counted)).Inc()
	metrics.BetVolume.WithLabelValues(tokenName).Add(req.Amount.InexactFloat64())
	slog.Info("bet recorded", "market", m.Name, "from", u.ID, "option", req.ChooseOption, "amount", req.Amount, "pool", m.Count)

	if err := s.refreshBureaus(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Judge records the result of a market as its judge.
func (s *Service) Judge(ctx context.Context, name, result string) (*model.Market, error) {
	if name == "" || result == "" {
		return nil, fmt.Errorf("%w: futureBureauName and result are required", model.ErrValidation)
	}
	_, subj, err := s.caller(ctx)
	if err != nil {
		return nil, permissionIfMissing(err)
	}
	m, err := s.markets.Judge(ctx, subj, name, result)
	if err != nil {
		return nil, err
	}
	if err := s.refreshBureaus(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Settle pays out a judged market. The judge or an admin may settle.
func (s *Service) Settle(ctx context.Context, name string, ts int64) (*model.Market, *settlement.Plan, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("%w: futureBureauName is required", model.ErrValidation)
	}
	_, subj, err := s.caller(ctx)
	if err != nil {
		return nil, nil, permissionIfMissing(err)
	}
	m, err := s.markets.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if err := access.Authorize(access.OpMarketSettle, subj, access.Resource{OwnerID: m.Creator, JudgePerson: m.JudgePerson}); err != nil {
		return nil, nil, err
	}
	m, plan, err := s.settler.Settle(ctx, name, ts)
	if err != nil {
		return nil, nil, err
	}
	if err := s.refreshBureaus(ctx, m); err != nil {
		return nil, nil, err
	}
	return m, plan, nil
}

// refreshBureaus writes a snapshot of m into the bureau of every
// registered holder of the market.
func (s *Service) refreshBureaus(ctx context.Context, m *model.Market) error {
	seen := make(map[string]bool)
	holders := append([]string{m.Creator, m.JudgePerson}, m.Users...)
	for _, id := range holders {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		u, err := s.rec.GetUser(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		u.Bureau[m.Name] = m.Clone()
		if err := s.rec.PutUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}
