// Package pricing converts trade intents into deterministic quotes against
// the market's implied probability. It is pure and stateless: no storage, no
// randomness, no error paths. Bad inputs are defensively clamped to safe
// defaults rather than rejected, so a quote can never fail.
//
// This is a constant-probability pricing oracle, not a price-impact curve.
// The execution price is always the (clamped) current probability; any price
// movement happens separately through an impact.Strategy.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/model"
)

var (
	// MinProbability is the probability floor. Guards the buy-side division
	// and prevents runaway share counts at the low extreme.
	MinProbability = decimal.NewFromFloat(0.01)

	// MaxProbability is the probability ceiling.
	MaxProbability = decimal.NewFromFloat(0.99)

	// DefaultFeeRate is the standard 2% fee applied to the gross amount.
	DefaultFeeRate = decimal.NewFromFloat(0.02)

	// MaxFeeRate caps caller-supplied fee rates.
	MaxFeeRate = decimal.NewFromFloat(0.10)

	half = decimal.NewFromFloat(0.5)
)

// Quote is a read-only price/cost estimate for a prospective trade. Values
// carry full precision; rounding to display precision happens at the
// trade-record boundary, not here.
type Quote struct {
	EstimatedCost   decimal.Decimal `json:"estimatedCost"`
	EstimatedShares decimal.Decimal `json:"estimatedShares"`
	Fee             decimal.Decimal `json:"fee"`
	AveragePrice    decimal.Decimal `json:"averagePrice"`
}

// ClampProbability clamps p into [MinProbability, MaxProbability].
func ClampProbability(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinProbability) {
		return MinProbability
	}
	if p.GreaterThan(MaxProbability) {
		return MaxProbability
	}
	return p
}

// ProbabilityFromFloat converts an externally supplied float into a clamped
// probability. NaN and infinities map to 0.5, the uninformative prior.
func ProbabilityFromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return half
	}
	return ClampProbability(decimal.NewFromFloat(f))
}

// Simulate quotes a trade of amount USD at the given probability.
//
// Buy: fee is taken from the stake, the remainder buys shares at the clamped
// probability, and the estimated cost is the full fee-inclusive stake.
//
// Sell: shares = amount × probability and the net proceeds are amount − fee.
// The amount parameter is a share-quantity surrogate on the sell side, an
// interface asymmetry kept deliberately as callers depend on it.
//
// Negative or zero amounts are clamped to zero, fee rates to [0, MaxFeeRate].
// Deterministic: identical inputs always yield identical quotes.
func Simulate(amount, probability decimal.Decimal, side model.Side, feeRate decimal.Decimal) Quote {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if feeRate.IsNegative() {
		feeRate = decimal.Zero
	}
	if feeRate.GreaterThan(MaxFeeRate) {
		feeRate = MaxFeeRate
	}
	p := ClampProbability(probability)

	fee := amount.Mul(feeRate)
	notional := amount.Sub(fee)
	if notional.IsNegative() {
		notional = decimal.Zero
	}

	var shares, cost decimal.Decimal
	if side == model.SideSell {
		shares = amount.Mul(p)
		cost = notional
	} else {
		shares = notional.Div(p)
		cost = amount
	}

	return Quote{
		EstimatedCost:   cost,
		EstimatedShares: shares,
		Fee:             fee,
		AveragePrice:    p,
	}
}

// HistoryPoint is one day of synthetic price history, with probabilities
// rendered as integer percentages for chart display.
type HistoryPoint struct {
	Date string `json:"date"`
	Yes  int    `json:"yes"`
	No   int    `json:"no"`
}

// PriceHistory generates a deterministic series walking from startProb to
// endProb over the given number of days, with sinusoidal noise seeded from
// the endpoints. Display-only: float math is fine here, no money involved.
func PriceHistory(startProb, endProb float64, days int, now time.Time) []HistoryPoint {
	if days < 1 {
		days = 1
	}

	points := make([]HistoryPoint, 0, days+1)
	for i := days; i >= 0; i-- {
		date := now.AddDate(0, 0, -i)
		progress := float64(days-i) / float64(days)
		base := startProb + (endProb-startProb)*progress
		noise := math.Sin(float64(i+1)*97+startProb*137+endProb*83) * 0.04

		yes := math.Max(0.01, math.Min(0.99, base+noise))
		points = append(points, HistoryPoint{
			Date: date.Format("2006-01-02"),
			Yes:  int(math.Round(yes * 100)),
			No:   int(math.Round((1 - yes) * 100)),
		})
	}
	return points
}
