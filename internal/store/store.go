// Package store is the sole writer of market, trade, activity, and claim
// state. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing and development).
//
// Every mutating operation is atomic: either the trade, volume bump,
// probability update, and activity event all apply, or state is left
// untouched. Readers get defensive copies and can never observe a market
// mid-update.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/limits"
	"github.com/zenguess/market-engine/internal/model"
)

var (
	// ErrMarketNotFound is the recoverable lookup miss. Callers map it to a
	// 404-equivalent; it is never fatal.
	ErrMarketNotFound = errors.New("store: market not found")

	// ErrAlreadyResolved is returned when resolving a market twice. The
	// original resolved outcome is preserved.
	ErrAlreadyResolved = errors.New("store: market already resolved")

	// ErrInvalidOutcome is returned for an outcome index outside the
	// market's outcome list.
	ErrInvalidOutcome = errors.New("store: outcome index out of range")

	// ErrMarketNotResolved is returned when claiming winnings before
	// resolution.
	ErrMarketNotResolved = errors.New("store: market not resolved")

	// ErrAlreadyClaimed is returned when a (market, account) pair claims a
	// second time.
	ErrAlreadyClaimed = errors.New("store: winnings already claimed")
)

// Activity feed limits. Requests outside the bounds are clamped, not
// rejected.
const (
	MinActivityLimit     = 1
	MaxActivityLimit     = 500
	DefaultActivityLimit = 100
)

// ClampActivityLimit brings limit into [MinActivityLimit, MaxActivityLimit],
// substituting the default for non-positive values.
func ClampActivityLimit(limit int) int {
	if limit <= 0 {
		return DefaultActivityLimit
	}
	if limit < MinActivityLimit {
		return MinActivityLimit
	}
	if limit > MaxActivityLimit {
		return MaxActivityLimit
	}
	return limit
}

// Store is the persistence interface for the market engine.
type Store interface {
	// ListMarkets returns markets matching filters, defensively copied.
	// The status filter is applied against the derived status.
	ListMarkets(ctx context.Context, filters model.ListFilters) ([]model.Market, error)

	// GetMarket retrieves a market by ID, with its status derived.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// CreateMarket persists a new market together with its market_created
	// activity event. Both appear or neither does.
	CreateMarket(ctx context.Context, m *model.Market, ev *model.ActivityEvent) error

	// RecordTrade appends a trade, increments the market's volume by
	// trade.Total, replaces the market's outcome probabilities with
	// outcomes (nil means unchanged), and appends the trade activity
	// event, all atomically. The market must exist.
	RecordTrade(ctx context.Context, t *model.Trade, outcomes []model.Outcome, ev *model.ActivityEvent) error

	// ResolveMarket sets status=resolved and the resolved outcome exactly
	// once, appending the market_resolved event atomically. Re-resolution
	// and out-of-range indices are rejected without state change.
	ResolveMarket(ctx context.Context, id string, outcomeIndex int, ev *model.ActivityEvent) (*model.Market, error)

	// ListTradesByMarket returns a market's trades newest first, ties
	// broken by insertion order.
	ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// ListActivity returns the newest events up to limit.
	ListActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error)

	// GetPortfolio derives per-market positions from the trade ledger for
	// the given account (case-insensitive). No positions is not an error.
	GetPortfolio(ctx context.Context, account string) ([]model.PortfolioPosition, error)

	// TraderExposures returns the account's net notional exposure per
	// market, for position-limit checks.
	TraderExposures(ctx context.Context, account string) ([]limits.Exposure, error)

	// ClaimWinnings pays out the account's net shares in the resolved
	// winning outcome at 1.0 USD per share, atomically marking the
	// (market, account) pair claimed. A second claim for a paid pair fails
	// with ErrAlreadyClaimed; a zero-share claim pays zero and is not
	// marked.
	ClaimWinnings(ctx context.Context, marketID, account string) (decimal.Decimal, error)
}
