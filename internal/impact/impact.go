// Package impact defines the price-impact strategy applied to a market's
// outcome probabilities when a trade commits.
//
// The baseline engine deliberately does not move probabilities on trade
// flow: quotes execute at the current implied probability and the curve is
// flat. That behavior is PassThrough, the default. LMSR is the opt-in
// alternative: a logarithmic market scoring rule update (Hanson 2003)
// generalized to N outcomes, so the curve can be swapped by configuration
// without touching the ledger store.
//
// Every strategy must preserve the sum-to-1 invariant within floating
// tolerance and must not mutate its input slice.
package impact

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/model"
)

var (
	// ErrInvalidLiquidity is returned when the LMSR b parameter is not
	// positive.
	ErrInvalidLiquidity = errors.New("impact: liquidity parameter b must be positive")

	// MinPrice is the probability floor after an update. Prevents degenerate
	// markets where an outcome appears impossible.
	MinPrice = decimal.NewFromFloat(0.001)

	// MaxPrice is the probability ceiling after an update.
	MaxPrice = decimal.NewFromFloat(0.999)

	// PriceScale is the number of decimal places probabilities are rounded
	// to after an update.
	PriceScale int32 = 8
)

// Strategy computes the post-trade outcome probabilities for a market.
// Implementations are pure: the returned slice is freshly allocated and the
// input is left untouched.
type Strategy interface {
	Apply(outcomes []model.Outcome, outcomeIndex int, side model.Side, shares decimal.Decimal) []model.Outcome
}

// PassThrough leaves probabilities exactly as they were. This is the
// engine's stated baseline: the probability curve does not respond to trade
// flow.
type PassThrough struct{}

// Apply returns a copy of outcomes with no changes.
func (PassThrough) Apply(outcomes []model.Outcome, _ int, _ model.Side, _ decimal.Decimal) []model.Outcome {
	out := make([]model.Outcome, len(outcomes))
	copy(out, outcomes)
	return out
}

// LMSR nudges probabilities along a logarithmic market scoring rule with
// liquidity parameter b. Higher b → more liquidity, lower price impact per
// share traded. It is stateless: current probabilities are the only market
// state it reads.
type LMSR struct {
	b float64
}

// NewLMSR creates an LMSR strategy with the given liquidity parameter.
func NewLMSR(b decimal.Decimal) (*LMSR, error) {
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	return &LMSR{b: b.InexactFloat64()}, nil
}

// Apply maps the current probabilities back to LMSR share quantities
// (q_i = b·ln(p_i), a softmax pre-image — any constant shift cancels),
// shifts the traded outcome by ±shares, and re-derives prices via softmax.
// Out-of-range outcome indices leave probabilities unchanged.
//
// Transcendental math runs in float64 with max-subtraction for numerical
// stability, the results converting back to decimal immediately, the same
// discipline the rest of the engine uses for money.
func (l *LMSR) Apply(outcomes []model.Outcome, outcomeIndex int, side model.Side, shares decimal.Decimal) []model.Outcome {
	out := make([]model.Outcome, len(outcomes))
	copy(out, outcomes)

	if outcomeIndex < 0 || outcomeIndex >= len(out) || shares.LessThanOrEqual(decimal.Zero) {
		return out
	}

	qs := make([]float64, len(out))
	for i, o := range out {
		p := o.Probability.InexactFloat64()
		if p < MinPrice.InexactFloat64() {
			p = MinPrice.InexactFloat64()
		}
		qs[i] = l.b * math.Log(p)
	}

	delta := shares.InexactFloat64()
	if side == model.SideSell {
		delta = -delta
	}
	qs[outcomeIndex] += delta

	for i, p := range softmax(qs, l.b) {
		out[i].Probability = clampPrice(decimal.NewFromFloat(p))
	}
	return normalize(out)
}

// softmax computes p_i = exp(q_i/b) / Σ exp(q_j/b) with the max subtracted
// first so exp never overflows float64.
func softmax(qs []float64, b float64) []float64 {
	maxVal := math.Inf(-1)
	for _, q := range qs {
		if q/b > maxVal {
			maxVal = q / b
		}
	}

	exps := make([]float64, len(qs))
	var sum float64
	for i, q := range qs {
		exps[i] = math.Exp(q/b - maxVal)
		sum += exps[i]
	}

	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

func clampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinPrice) {
		return MinPrice
	}
	if p.GreaterThan(MaxPrice) {
		return MaxPrice
	}
	return p
}

// normalize rescales probabilities so they sum to exactly 1 after clamping,
// then rounds to PriceScale.
func normalize(outcomes []model.Outcome) []model.Outcome {
	sum := decimal.Zero
	for _, o := range outcomes {
		sum = sum.Add(o.Probability)
	}
	if sum.IsZero() {
		return outcomes
	}
	for i := range outcomes {
		outcomes[i].Probability = outcomes[i].Probability.Div(sum).Round(PriceScale)
	}
	return outcomes
}
