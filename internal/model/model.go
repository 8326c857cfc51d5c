// Package model defines the core domain types shared across the market engine.
// All monetary values and probabilities use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the market lifecycle status. "closed" is never stored — it is
// derived from the clock by the lifecycle package. Only "open" and "resolved"
// appear in persisted state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusResolved Status = "resolved"
)

// Category is the closed set of market categories.
type Category string

const (
	CategoryCrypto    Category = "crypto"
	CategoryPolitics  Category = "politics"
	CategorySports    Category = "sports"
	CategoryScience   Category = "science"
	CategoryCulture   Category = "culture"
	CategoryEconomics Category = "economics"
	CategoryOther     Category = "other"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCrypto, CategoryPolitics, CategorySports, CategoryScience,
		CategoryCulture, CategoryEconomics, CategoryOther:
		return true
	}
	return false
}

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is buy or sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sort is the closed set of market list orderings.
type Sort string

const (
	SortVolume     Sort = "volume"
	SortNewest     Sort = "newest"
	SortEndingSoon Sort = "ending_soon"
	SortLiquidity  Sort = "liquidity"
)

// EventType classifies activity feed entries.
type EventType string

const (
	EventTrade          EventType = "trade"
	EventMarketCreated  EventType = "market_created"
	EventMarketResolved EventType = "market_resolved"
	EventLiquidityAdded EventType = "liquidity_added"
)

// Outcome is one possible resolution of a market's question. Probabilities
// across a market's outcomes sum to 1 within tolerance whenever observed.
type Outcome struct {
	Label       string          `json:"label" db:"label"`
	Probability decimal.Decimal `json:"probability" db:"probability"`
}

// Market is a tradeable question. Identity is immutable once created;
// outcomes, volume, status, and resolved outcome change only through store
// operations. Markets are never deleted.
type Market struct {
	ID               string          `json:"id" db:"id"`
	Question         string          `json:"question" db:"question"`
	Description      string          `json:"description" db:"description"`
	Category         Category        `json:"category" db:"category"`
	Status           Status          `json:"status" db:"status"`
	Outcomes         []Outcome       `json:"outcomes" db:"outcomes"`
	EndTime          time.Time       `json:"endTime" db:"end_time"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	Volume           decimal.Decimal `json:"volume" db:"volume"`
	Liquidity        decimal.Decimal `json:"liquidity" db:"liquidity"`
	ResolvedOutcome  *int            `json:"resolvedOutcome,omitempty" db:"resolved_outcome"`
	ResolutionSource string          `json:"resolutionSource" db:"resolution_source"`
	Tags             []string        `json:"tags" db:"tags"`
	Creator          string          `json:"creator" db:"creator"`
}

// Clone returns a deep copy so callers cannot mutate store internals.
func (m *Market) Clone() *Market {
	cp := *m
	cp.Outcomes = make([]Outcome, len(m.Outcomes))
	copy(cp.Outcomes, m.Outcomes)
	cp.Tags = make([]string, len(m.Tags))
	copy(cp.Tags, m.Tags)
	if m.ResolvedOutcome != nil {
		idx := *m.ResolvedOutcome
		cp.ResolvedOutcome = &idx
	}
	return &cp
}

// Trade is an immutable record of a trade execution. Once created, these are
// never modified or deleted. OutcomeLabel is a snapshot taken at execution
// time, not re-derived from the market.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"marketId" db:"market_id"`
	Trader       string          `json:"trader" db:"trader"`
	OutcomeIndex int             `json:"outcomeIndex" db:"outcome_index"`
	OutcomeLabel string          `json:"outcomeLabel" db:"outcome_label"`
	Side         Side            `json:"side" db:"side"`
	Shares       decimal.Decimal `json:"shares" db:"shares"`
	Price        decimal.Decimal `json:"price" db:"price"` // per-share probability in [0,1]
	Total        decimal.Decimal `json:"total" db:"total"` // USD notional
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
	TxHash       string          `json:"txHash" db:"tx_hash"`
}

// ActivityEvent is an append-only, denormalized projection of a
// market-affecting action, for feed display.
type ActivityEvent struct {
	ID          string            `json:"id" db:"id"`
	Type        EventType         `json:"type" db:"type"`
	MarketID    string            `json:"marketId" db:"market_id"`
	MarketTitle string            `json:"marketTitle" db:"market_title"`
	Description string            `json:"description" db:"description"`
	Actor       string            `json:"actor" db:"actor"`
	Timestamp   time.Time         `json:"timestamp" db:"timestamp"`
	TxHash      string            `json:"txHash" db:"tx_hash"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// PortfolioPosition is a per-account, per-market-outcome aggregate derived
// from the trade ledger: AvgPrice is the volume-weighted average entry price
// over buys, Shares are net of sells, and PnL marks against the held
// outcome's current probability.
type PortfolioPosition struct {
	MarketID     string          `json:"marketId"`
	MarketTitle  string          `json:"marketTitle"`
	Outcome      string          `json:"outcome"`
	OutcomeIndex int             `json:"outcomeIndex"`
	Shares       decimal.Decimal `json:"shares"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	PnL          decimal.Decimal `json:"pnl"`
	Status       Status          `json:"status"` // open or resolved, never closed
}

// CreateMarketInput carries the caller-validated fields for market creation.
type CreateMarketInput struct {
	Question         string          `json:"question"`
	Description      string          `json:"description"`
	Category         Category        `json:"category"`
	EndTime          time.Time       `json:"endTime"`
	Outcomes         []string        `json:"outcomes"`
	InitialLiquidity decimal.Decimal `json:"initialLiquidity"`
	ResolutionSource string          `json:"resolutionSource"`
	Tags             []string        `json:"tags"`
	Creator          string          `json:"creator"`
}

// ListFilters narrows and orders ListMarkets results. Zero values mean "all"
// with the default volume sort. The status filter matches the derived
// status, not the stored one.
type ListFilters struct {
	Category Category
	Status   Status
	Query    string
	Sort     Sort
}
