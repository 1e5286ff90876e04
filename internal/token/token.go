// Package token implements the wallet and token ledger: token issuance and
// exact fixed-precision credit/debit of wallet holdings.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/model"
	"github.com/atmx/futurebureau/internal/store"
)

// MaxDecimals is the largest precision a token may declare.
const MaxDecimals int32 = 16

var (
	// ErrPrecision is returned when an amount has more fractional digits
	// than the token allows.
	ErrPrecision = errors.New("token: amount exceeds token precision")

	// ErrNonPositive is returned for zero or negative transfer amounts.
	ErrNonPositive = errors.New("token: amount must be positive")
)

// CreateRequest describes a new token issuance.
type CreateRequest struct {
	Name     string          `json:"name"`
	Symbol   string          `json:"symbol"`
	Decimals int32           `json:"decimals"`
	Amount   decimal.Decimal `json:"amount"`
}

// Validate checks required fields and ranges.
func (r CreateRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: token name is required", model.ErrValidation)
	}
	if r.Symbol == "" {
		return fmt.Errorf("%w: token symbol is required", model.ErrValidation)
	}
	if r.Decimals < 0 || r.Decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals must be in [0,%d], got %d", model.ErrValidation, MaxDecimals, r.Decimals)
	}
	return CheckAmount(r.Amount, r.Decimals)
}

// Ledger issues tokens and opens wallet holdings against the record codec.
type Ledger struct {
	rec *store.Records
}

// NewLedger creates a token ledger over rec.
func NewLedger(rec *store.Records) *Ledger {
	return &Ledger{rec: rec}
}

// Create persists a new token whose whole supply is issued to issuer. The
// returned Token is the issuer's opening holding.
func (l *Ledger) Create(ctx context.Context, issuer string, req CreateRequest, ts int64) (*model.Token, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	exists, err := l.rec.TokenExists(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: token %s already exists", model.ErrConflict, req.Name)
	}

	opening := model.TransferEntry{From: issuer, To: issuer, Amount: req.Amount, Timestamp: ts}
	meta := &model.Token{
		Name:     req.Name,
		Symbol:   req.Symbol,
		Decimals: req.Decimals,
		Amount:   req.Amount,
		History:  []model.TransferEntry{opening},
	}
	if err := l.rec.PutToken(ctx, meta); err != nil {
		return nil, fmt.Errorf("persist token %s: %w", req.Name, err)
	}

	slog.Info("token created", "name", req.Name, "symbol", req.Symbol, "decimals", req.Decimals, "supply", req.Amount, "issuer", issuer)
	return &model.Token{
		Name:     meta.Name,
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
		Amount:   meta.Amount,
		History:  []model.TransferEntry{opening},
	}, nil
}

// Get returns the token metadata record.
func (l *Ledger) Get(ctx context.Context, name string) (*model.Token, error) {
	return l.rec.GetToken(ctx, name)
}

// Earn credits amount of the named token to w. A wallet that does not hold
// the token yet gets an empty holding shaped after the token metadata.
func (l *Ledger) Earn(ctx context.Context, w model.Wallet, name string, amount decimal.Decimal, entry model.TransferEntry) error {
	t, ok := w[name]
	if !ok {
		meta, err := l.rec.GetToken(ctx, name)
		if err != nil {
			return err
		}
		t = &model.Token{Name: meta.Name, Symbol: meta.Symbol, Decimals: meta.Decimals, Amount: decimal.Zero}
	}
	if err := Credit(t, amount, entry); err != nil {
		return err
	}
	w[name] = t
	return nil
}

// Expend debits amount of the named token from w.
func Expend(w model.Wallet, name string, amount decimal.Decimal, entry model.TransferEntry) error {
	t, ok := w[name]
	if !ok {
		return fmt.Errorf("%w: wallet holds no %s", model.ErrInsufficientBalance, name)
	}
	return Debit(t, amount, entry)
}

// Credit adds amount to t and appends entry to its history.
func Credit(t *model.Token, amount decimal.Decimal, entry model.TransferEntry) error {
	if err := CheckAmount(amount, t.Decimals); err != nil {
		return err
	}
	t.Amount = t.Amount.Add(amount)
	t.History = append(t.History, entry)
	return nil
}

// Debit subtracts amount from t and appends entry to its history. The
// balance never goes negative.
func Debit(t *model.Token, amount decimal.Decimal, entry model.TransferEntry) error {
	if err := CheckAmount(amount, t.Decimals); err != nil {
		return err
	}
	if amount.GreaterThan(t.Amount) {
		return fmt.Errorf("%w: %s balance %s, need %s", model.ErrInsufficientBalance, t.Name, t.Amount, amount)
	}
	t.Amount = t.Amount.Sub(amount)
	t.History = append(t.History, entry)
	return nil
}

// CheckAmount verifies amount is positive and representable at decimals.
func CheckAmount(amount decimal.Decimal, decimals int32) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: %w: %s", model.ErrValidation, ErrNonPositive, amount)
	}
	if !amount.Equal(amount.Truncate(decimals)) {
		return fmt.Errorf("%w: %w: %s at %d decimals", model.ErrValidation, ErrPrecision, amount, decimals)
	}
	return nil
}

// ParseAmount parses a decimal string and checks it against decimals.
func ParseAmount(s string, decimals int32) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", model.ErrValidation, s)
	}
	if err := CheckAmount(amount, decimals); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
