// Package store is the ledger record codec: it maps the user, token and
// market aggregates to composite keys and JSON values on a ledger.Ledger.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atmx/futurebureau/internal/ledger"
	"github.com/atmx/futurebureau/internal/model"
)

// Key namespaces.
const (
	UserPrefix     = "user"
	TokenPrefix    = "token"
	MarketPrefix   = "market"
	IndexPrefix    = "index"
	ContractPrefix = "contract"
)

// Records reads and writes aggregates on a ledger. It holds no state of its
// own; every call goes to the ledger.
type Records struct {
	l ledger.Ledger
}

// New creates a record codec over l.
func New(l ledger.Ledger) *Records {
	return &Records{l: l}
}

// Ledger returns the underlying ledger.
func (r *Records) Ledger() ledger.Ledger { return r.l }

// UserKey returns the key of the user record with the given id.
func UserKey(id string) (string, error) { return key(UserPrefix, id) }

// TokenKey returns the key of the token metadata record.
func TokenKey(name string) (string, error) { return key(TokenPrefix, name) }

// MarketKey returns the key of the canonical market record.
func MarketKey(name string) (string, error) { return key(MarketPrefix, name) }

func key(ns string, parts ...string) (string, error) {
	k, err := ledger.CompositeKey(ns, parts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return k, nil
}

// --- Users ---

func (r *Records) GetUser(ctx context.Context, id string) (*model.User, error) {
	k, err := UserKey(id)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := r.get(ctx, k, &u); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	if u.Wallet == nil {
		u.Wallet = model.Wallet{}
	}
	if u.Bureau == nil {
		u.Bureau = model.Bureau{}
	}
	return &u, nil
}

func (r *Records) PutUser(ctx context.Context, u *model.User) error {
	k, err := UserKey(u.ID)
	if err != nil {
		return err
	}
	return r.put(ctx, k, u)
}

func (r *Records) UserExists(ctx context.Context, id string) (bool, error) {
	k, err := UserKey(id)
	if err != nil {
		return false, err
	}
	return r.exists(ctx, k)
}

// --- Tokens ---

func (r *Records) GetToken(ctx context.Context, name string) (*model.Token, error) {
	k, err := TokenKey(name)
	if err != nil {
		return nil, err
	}
	var t model.Token
	if err := r.get(ctx, k, &t); err != nil {
		return nil, fmt.Errorf("token %s: %w", name, err)
	}
	return &t, nil
}

func (r *Records) PutToken(ctx context.Context, t *model.Token) error {
	k, err := TokenKey(t.Name)
	if err != nil {
		return err
	}
	return r.put(ctx, k, t)
}

func (r *Records) TokenExists(ctx context.Context, name string) (bool, error) {
	k, err := TokenKey(name)
	if err != nil {
		return false, err
	}
	return r.exists(ctx, k)
}

// --- Markets ---

func (r *Records) GetMarket(ctx context.Context, name string) (*model.Market, error) {
	k, err := MarketKey(name)
	if err != nil {
		return nil, err
	}
	var m model.Market
	if err := r.get(ctx, k, &m); err != nil {
		return nil, fmt.Errorf("market %s: %w", name, err)
	}
	return &m, nil
}

func (r *Records) PutMarket(ctx context.Context, m *model.Market) error {
	k, err := MarketKey(m.Name)
	if err != nil {
		return err
	}
	return r.put(ctx, k, m)
}

func (r *Records) MarketExists(ctx context.Context, name string) (bool, error) {
	k, err := MarketKey(name)
	if err != nil {
		return false, err
	}
	return r.exists(ctx, k)
}

// MarketIndex returns the global list of market names in creation order.
// A missing index is an empty one.
func (r *Records) MarketIndex(ctx context.Context) (*model.MarketRecord, error) {
	k, err := key(IndexPrefix, MarketPrefix)
	if err != nil {
		return nil, err
	}
	rec := &model.MarketRecord{BureauNames: []string{}}
	data, err := r.l.Get(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("market index: %w", err)
	}
	if data == nil {
		return rec, nil
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("market index: decode: %w", err)
	}
	return rec, nil
}

// AddMarketName appends name to the global index.
func (r *Records) AddMarketName(ctx context.Context, name string) error {
	rec, err := r.MarketIndex(ctx)
	if err != nil {
		return err
	}
	for _, n := range rec.BureauNames {
		if n == name {
			return nil
		}
	}
	rec.BureauNames = append(rec.BureauNames, name)
	k, err := key(IndexPrefix, MarketPrefix)
	if err != nil {
		return err
	}
	return r.put(ctx, k, rec)
}

// --- Contract account ---

// ContractAccount returns the escrow account id registered at bootstrap.
func (r *Records) ContractAccount(ctx context.Context) (string, error) {
	k, err := key(ContractPrefix, "account")
	if err != nil {
		return "", err
	}
	data, err := r.l.Get(ctx, k)
	if err != nil {
		return "", fmt.Errorf("contract account: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: contract account is not initialized", model.ErrNotFound)
	}
	return string(data), nil
}

// SetContractAccount registers the escrow account id.
func (r *Records) SetContractAccount(ctx context.Context, id string) error {
	k, err := key(ContractPrefix, "account")
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty contract account id", model.ErrValidation)
	}
	return r.l.Put(ctx, k, []byte(id))
}

// --- Codec helpers ---

func (r *Records) get(ctx context.Context, k string, v any) error {
	data, err := r.l.Get(ctx, k)
	if err != nil {
		return err
	}
	if data == nil {
		return model.ErrNotFound
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (r *Records) put(ctx context.Context, k string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return r.l.Put(ctx, k, data)
}

func (r *Records) exists(ctx context.Context, k string) (bool, error) {
	data, err := r.l.Get(ctx, k)
	if err != nil {
		return false, err
	}
	return len(data) > 0, nil
}
