package token

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/ledger"
	"github.com/atmx/futurebureau/internal/model"
	"github.com/atmx/futurebureau/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	return NewLedger(store.New(ledger.NewMemoryLedger()))
}

func TestCreate_PersistsOpeningEntry(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	held, err := l.Create(ctx, "alice", CreateRequest{Name: "GZH", Symbol: "GZH", Decimals: 2, Amount: d(1000)}, 1700000000000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !held.Amount.Equal(d(1000)) {
		t.Errorf("expected holding 1000, got %s", held.Amount)
	}

	meta, err := l.Get(ctx, "GZH")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(meta.History) != 1 {
		t.Fatalf("expected 1 opening entry, got %d", len(meta.History))
	}
	e := meta.History[0]
	if e.From != "alice" || e.To != "alice" || !e.Amount.Equal(d(1000)) || e.Timestamp != 1700000000000 {
		t.Errorf("unexpected opening entry: %+v", e)
	}
}

func TestCreate_Conflict(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	req := CreateRequest{Name: "GZH", Symbol: "GZH", Decimals: 0, Amount: d(10)}
	if _, err := l.Create(ctx, "alice", req, 1); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := l.Create(ctx, "bob", req, 2)
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing name", CreateRequest{Symbol: "S", Decimals: 2, Amount: d(1)}},
		{"missing symbol", CreateRequest{Name: "N", Decimals: 2, Amount: d(1)}},
		{"decimals too large", CreateRequest{Name: "N", Symbol: "S", Decimals: 17, Amount: d(1)}},
		{"negative decimals", CreateRequest{Name: "N", Symbol: "S", Decimals: -1, Amount: d(1)}},
		{"zero amount", CreateRequest{Name: "N", Symbol: "S", Decimals: 2, Amount: d(0)}},
		{"too precise", CreateRequest{Name: "N", Symbol: "S", Decimals: 2, Amount: d(1.005)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); !errors.Is(err, model.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestDebit_InsufficientBalance(t *testing.T) {
	tok := &model.Token{Name: "GZH", Decimals: 2, Amount: d(5)}
	err := Debit(tok, d(5.01), model.TransferEntry{})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if !tok.Amount.Equal(d(5)) || len(tok.History) != 0 {
		t.Errorf("failed debit must not mutate the token: %+v", tok)
	}
}

func TestCreditDebit_ExactArithmetic(t *testing.T) {
	tok := &model.Token{Name: "GZH", Decimals: 2, Amount: decimal.Zero}
	for i := 0; i < 1000; i++ {
		if err := Credit(tok, d(0.01), model.TransferEntry{}); err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
	}
	if !tok.Amount.Equal(d(10)) {
		t.Errorf("expected exactly 10 after 1000 credits of 0.01, got %s", tok.Amount)
	}
	if err := Debit(tok, d(10), model.TransferEntry{}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if !tok.Amount.IsZero() {
		t.Errorf("expected zero balance, got %s", tok.Amount)
	}
	if len(tok.History) != 1001 {
		t.Errorf("expected 1001 history entries, got %d", len(tok.History))
	}
}

func TestEarn_OpensHoldingFromMetadata(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()
	if _, err := l.Create(ctx, "alice", CreateRequest{Name: "GZH", Symbol: "GZ", Decimals: 4, Amount: d(100)}, 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := model.Wallet{}
	if err := l.Earn(ctx, w, "GZH", d(2.5), model.TransferEntry{From: "alice", To: "bob", Amount: d(2.5)}); err != nil {
		t.Fatalf("earn: %v", err)
	}
	h := w["GZH"]
	if h == nil || h.Symbol != "GZ" || h.Decimals != 4 || !h.Amount.Equal(d(2.5)) {
		t.Errorf("unexpected holding: %+v", h)
	}

	if err := l.Earn(ctx, w, "NOPE", d(1), model.TransferEntry{}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown token, got %v", err)
	}
}

func TestExpend_MissingHolding(t *testing.T) {
	err := Expend(model.Wallet{}, "GZH", d(1), model.TransferEntry{})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	if a, err := ParseAmount("12.34", 2); err != nil || !a.Equal(d(12.34)) {
		t.Errorf("expected 12.34, got %s (%v)", a, err)
	}
	for _, s := range []string{"abc", "", "-1", "0", "1.234"} {
		if _, err := ParseAmount(s, 2); !errors.Is(err, model.ErrValidation) {
			t.Errorf("ParseAmount(%q): expected ErrValidation, got %v", s, err)
		}
	}
}
