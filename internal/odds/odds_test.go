package odds

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Rate tests ---

func TestRate_ProportionalMultiplier(t *testing.T) {
	r := Rate(d(100), d(60))
	if !r.Equal(d(1.66666667)) {
		t.Errorf("expected 1.66666667, got %s", r)
	}
}

func TestRate_ZeroPool(t *testing.T) {
	if r := Rate(d(100), d(0)); !r.IsZero() {
		t.Errorf("expected zero rate for empty pool, got %s", r)
	}
}

func TestImpliedProbability(t *testing.T) {
	if p := ImpliedProbability(d(40), d(100)); !p.Equal(d(0.4)) {
		t.Errorf("expected 0.4, got %s", p)
	}
	if p := ImpliedProbability(d(0), d(0)); !p.IsZero() {
		t.Errorf("expected zero for empty market, got %s", p)
	}
}

// --- Payout tests ---

func TestPayout_NoRateRounding(t *testing.T) {
	// Rounding the rate first would give 60*1.66666667 = 100.0000002.
	p := Payout(d(60), d(100), d(60), 8)
	if !p.Equal(d(100)) {
		t.Errorf("expected exactly 100, got %s", p)
	}
}

func TestPayout_TruncatesToPrecision(t *testing.T) {
	// 10 * 100 / 30 = 33.333...
	p := Payout(d(10), d(100), d(30), 2)
	if !p.Equal(d(33.33)) {
		t.Errorf("expected 33.33, got %s", p)
	}
}

func TestPayout_SumNeverExceedsPool(t *testing.T) {
	stakes := []decimal.Decimal{d(1), d(2), d(4)}
	pool := d(7)
	total := d(23)
	sum := decimal.Zero
	for _, s := range stakes {
		sum = sum.Add(Payout(s, total, pool, 0))
	}
	if sum.GreaterThan(total) {
		t.Errorf("payouts %s exceed total %s", sum, total)
	}
}

// --- Quote tests ---

func TestQuote(t *testing.T) {
	m := &model.Market{
		Options: []model.Outcome{{Label: "yes", Pool: d(75)}, {Label: "no", Pool: d(25)}, {Label: "void"}},
		Count:   d(100),
	}
	q := Quote(m)
	if len(q) != 3 {
		t.Fatalf("expected 3 quotes, got %d", len(q))
	}
	if q[1].Key != "option2" || !q[1].Rate.Equal(d(4)) || !q[1].Probability.Equal(d(0.25)) {
		t.Errorf("unexpected quote: %+v", q[1])
	}
	if !q[2].Rate.IsZero() {
		t.Errorf("empty outcome should quote zero rate, got %s", q[2].Rate)
	}
}
