// Package odds implements pari-mutuel pricing for multi-outcome markets.
//
// All stakes share one pool. When an outcome wins, every unit staked on it
// is worth rate = total / pool units, so odds move only as stakes arrive:
//   - Rate(total, pool) is the payout multiplier of an outcome
//   - ImpliedProbability(pool, total) is its share of the pool
//   - Payout(stake, total, pool) is the gross payout of a winning stake
//
// Functions are pure. Market state is passed as arguments, not stored.
package odds

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/futurebureau/internal/model"
)

// RateScale is the number of decimal places rates and probabilities are
// reported with.
var RateScale int32 = 8

// Rate returns total/pool rounded to RateScale. An empty pool has no
// winners to pay and yields zero, never a division fault.
func Rate(total, pool decimal.Decimal) decimal.Decimal {
	if pool.Sign() <= 0 {
		return decimal.Zero
	}
	return total.DivRound(pool, RateScale)
}

// ImpliedProbability returns pool/total rounded to RateScale, zero for an
// empty market.
func ImpliedProbability(pool, total decimal.Decimal) decimal.Decimal {
	if total.Sign() <= 0 {
		return decimal.Zero
	}
	return pool.DivRound(total, RateScale)
}

// Payout returns the gross payout of stake on a winning outcome, truncated
// to places. It multiplies before dividing so the rate is never rounded
// first: 60 staked of a 60 pool in a 100 market pays exactly 100.
func Payout(stake, total, pool decimal.Decimal, places int32) decimal.Decimal {
	if pool.Sign() <= 0 || stake.Sign() <= 0 {
		return decimal.Zero
	}
	// Keep a few guard digits before truncating to the token precision.
	return stake.Mul(total).DivRound(pool, places+4).Truncate(places)
}

// OptionQuote is the live pricing of one market outcome.
type OptionQuote struct {
	Key         string          `json:"key"`
	Label       string          `json:"label"`
	Pool        decimal.Decimal `json:"pool"`
	Rate        decimal.Decimal `json:"rate"`
	Probability decimal.Decimal `json:"probability"`
}

// Quote prices every defined outcome of m.
func Quote(m *model.Market) []OptionQuote {
	quotes := make([]OptionQuote, 0, len(m.Options))
	for i, o := range m.Options {
		if o.Label == "" {
			continue
		}
		quotes = append(quotes, OptionQuote{
			Key:         model.OptionKey(i),
			Label:       o.Label,
			Pool:        o.Pool,
			Rate:        Rate(m.Count, o.Pool),
			Probability: ImpliedProbability(o.Pool, m.Count),
		})
	}
	return quotes
}
