// Package limits enforces per-trader position limits with category
// awareness.
//
// Markets in the same category tend to resolve on correlated events — a
// trader long across twenty crypto markets carries correlated risk, not
// twenty independent bets. The limiter caps notional exposure both in any
// single market and aggregated across a category.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/model"
)

var (
	// ErrPerMarketLimitExceeded is returned when a trade would push the
	// trader's exposure in a single market beyond the per-market maximum.
	ErrPerMarketLimitExceeded = errors.New("limits: per-market position limit exceeded")

	// ErrCategoryLimitExceeded is returned when a trade would push the
	// trader's aggregate exposure across a category beyond the category
	// maximum.
	ErrCategoryLimitExceeded = errors.New("limits: category exposure limit exceeded")
)

// Exposure is a trader's current notional exposure in one market.
type Exposure struct {
	MarketID string
	Category model.Category
	Notional decimal.Decimal
}

// PositionLimiter enforces per-market and per-category exposure caps. A
// non-positive cap disables the corresponding check.
type PositionLimiter struct {
	// MaxPerMarket is the maximum absolute notional exposure in any single
	// market.
	MaxPerMarket decimal.Decimal

	// MaxPerCategory is the maximum aggregate absolute exposure across all
	// markets sharing a category.
	MaxPerCategory decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given caps.
func NewPositionLimiter(maxPerMarket, maxPerCategory decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerMarket:   maxPerMarket,
		MaxPerCategory: maxPerCategory,
	}
}

// CheckLimit validates whether adding delta notional exposure in the target
// market respects both caps, given the trader's existing exposures. Sells
// pass a negative delta. Returns nil when the trade is within limits.
func (l *PositionLimiter) CheckLimit(marketID string, category model.Category, delta decimal.Decimal, existing []Exposure) error {
	current := decimal.Zero
	categoryTotal := decimal.Zero
	for _, e := range existing {
		if e.MarketID == marketID {
			current = current.Add(e.Notional)
			continue // counted via newPosition below
		}
		if e.Category == category {
			categoryTotal = categoryTotal.Add(e.Notional.Abs())
		}
	}

	newPosition := current.Add(delta)
	if l.MaxPerMarket.IsPositive() && newPosition.Abs().GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}

	if l.MaxPerCategory.IsPositive() &&
		categoryTotal.Add(newPosition.Abs()).GreaterThan(l.MaxPerCategory) {
		return ErrCategoryLimitExceeded
	}

	return nil
}
