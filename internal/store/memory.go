package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/lifecycle"
	"github.com/zenguess/market-engine/internal/limits"
	"github.com/zenguess/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory slices and maps under a single
// RWMutex. Used for testing and development. Not suitable for production
// (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*model.Market
	trades  []model.Trade
	events  []model.ActivityEvent
	claims  map[string]bool // "marketID|account" → claimed
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		claims:  make(map[string]bool),
	}
}

func claimKey(marketID, account string) string {
	return marketID + "|" + strings.ToLower(account)
}

func (s *MemoryStore) ListMarkets(_ context.Context, filters model.ListFilters) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	query := strings.ToLower(strings.TrimSpace(filters.Query))

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		derived := lifecycle.WithDerived(m, now)

		if filters.Category != "" && derived.Category != filters.Category {
			continue
		}
		if filters.Status != "" && derived.Status != filters.Status {
			continue
		}
		if query != "" && !matchesQuery(derived, query) {
			continue
		}
		markets = append(markets, *derived)
	}

	sortMarkets(markets, filters.Sort)
	return markets, nil
}

// matchesQuery reports a case-insensitive substring match against the
// question text or any tag.
func matchesQuery(m *model.Market, query string) bool {
	if strings.Contains(strings.ToLower(m.Question), query) {
		return true
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// sortMarkets orders in place: volume desc (default), newest desc,
// ending_soon asc, liquidity desc. Stable, so equal keys keep map-iteration
// ties deterministic only via the secondary ID comparison.
func sortMarkets(markets []model.Market, by model.Sort) {
	less := func(a, b *model.Market) bool {
		switch by {
		case model.SortNewest:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case model.SortEndingSoon:
			if !a.EndTime.Equal(b.EndTime) {
				return a.EndTime.Before(b.EndTime)
			}
		case model.SortLiquidity:
			if !a.Liquidity.Equal(b.Liquidity) {
				return a.Liquidity.GreaterThan(b.Liquidity)
			}
		default: // model.SortVolume
			if !a.Volume.Equal(b.Volume) {
				return a.Volume.GreaterThan(b.Volume)
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(markets, func(i, j int) bool {
		return less(&markets[i], &markets[j])
	})
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return lifecycle.WithDerived(m, time.Now().UTC()), nil
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, ev *model.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.markets[m.ID]; exists {
		return fmt.Errorf("market %s already exists", m.ID)
	}

	s.markets[m.ID] = m.Clone()
	if ev != nil {
		s.events = append(s.events, *ev)
	}
	return nil
}

func (s *MemoryStore) RecordTrade(_ context.Context, t *model.Trade, outcomes []model.Outcome, ev *model.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[t.MarketID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, t.MarketID)
	}

	m.Volume = m.Volume.Add(t.Total)
	if outcomes != nil {
		m.Outcomes = make([]model.Outcome, len(outcomes))
		copy(m.Outcomes, outcomes)
	}

	s.trades = append(s.trades, *t)
	if ev != nil {
		s.events = append(s.events, *ev)
	}
	return nil
}

func (s *MemoryStore) ResolveMarket(_ context.Context, id string, outcomeIndex int, ev *model.ActivityEvent) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if m.Status == model.StatusResolved {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}
	if outcomeIndex < 0 || outcomeIndex >= len(m.Outcomes) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidOutcome, outcomeIndex, len(m.Outcomes))
	}

	m.Status = model.StatusResolved
	m.ResolvedOutcome = &outcomeIndex
	if ev != nil {
		s.events = append(s.events, *ev)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := make([]model.Trade, 0)
	for _, t := range s.trades {
		if t.MarketID == marketID {
			trades = append(trades, t)
		}
	}
	// Newest first; the stable sort keeps insertion order for equal
	// timestamps so pagination stays deterministic.
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.After(trades[j].Timestamp)
	})
	return trades, nil
}

func (s *MemoryStore) ListActivity(_ context.Context, limit int) ([]model.ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = ClampActivityLimit(limit)

	events := make([]model.ActivityEvent, len(s.events))
	copy(events, s.events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})

	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// posAgg accumulates ledger entries for one (market, outcome) pair.
type posAgg struct {
	marketID     string
	outcomeIndex int
	label        string
	buyShares    decimal.Decimal
	buyNotional  decimal.Decimal // Σ shares×price over buys, for VWAP entry
	sellShares   decimal.Decimal
}

func (s *MemoryStore) GetPortfolio(_ context.Context, account string) ([]model.PortfolioPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	aggs := s.aggregatePositions(account)

	positions := make([]model.PortfolioPosition, 0, len(aggs))
	for _, pa := range aggs {
		shares := pa.buyShares.Sub(pa.sellShares)
		if !shares.IsPositive() {
			continue
		}

		avgPrice := decimal.Zero
		if pa.buyShares.IsPositive() {
			avgPrice = pa.buyNotional.Div(pa.buyShares)
		}

		pos := model.PortfolioPosition{
			MarketID:     pa.marketID,
			Outcome:      pa.label,
			OutcomeIndex: pa.outcomeIndex,
			Shares:       shares,
			AvgPrice:     avgPrice,
			CurrentPrice: decimal.NewFromFloat(0.5),
			Status:       model.StatusOpen,
		}

		if m := s.markets[pa.marketID]; m != nil {
			pos.MarketTitle = m.Question
			if pa.outcomeIndex >= 0 && pa.outcomeIndex < len(m.Outcomes) {
				pos.CurrentPrice = m.Outcomes[pa.outcomeIndex].Probability
			}
			if m.Status == model.StatusResolved {
				pos.Status = model.StatusResolved
			}
		}

		pos.PnL = shares.Mul(pos.CurrentPrice.Sub(avgPrice))
		positions = append(positions, pos)
	}

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].MarketID != positions[j].MarketID {
			return positions[i].MarketID < positions[j].MarketID
		}
		return positions[i].OutcomeIndex < positions[j].OutcomeIndex
	})
	return positions, nil
}

// aggregatePositions folds the trade ledger into per-(market, outcome)
// aggregates for the account. Caller must hold at least a read lock.
func (s *MemoryStore) aggregatePositions(account string) map[string]*posAgg {
	normalized := strings.ToLower(account)
	aggs := make(map[string]*posAgg)

	for _, t := range s.trades {
		if strings.ToLower(t.Trader) != normalized {
			continue
		}
		key := fmt.Sprintf("%s#%d", t.MarketID, t.OutcomeIndex)
		pa, ok := aggs[key]
		if !ok {
			pa = &posAgg{
				marketID:     t.MarketID,
				outcomeIndex: t.OutcomeIndex,
				label:        t.OutcomeLabel,
			}
			aggs[key] = pa
		}
		if t.Side == model.SideBuy {
			pa.buyShares = pa.buyShares.Add(t.Shares)
			pa.buyNotional = pa.buyNotional.Add(t.Shares.Mul(t.Price))
		} else {
			pa.sellShares = pa.sellShares.Add(t.Shares)
		}
	}
	return aggs
}

func (s *MemoryStore) TraderExposures(_ context.Context, account string) ([]limits.Exposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	normalized := strings.ToLower(account)
	byMarket := make(map[string]decimal.Decimal)
	for _, t := range s.trades {
		if strings.ToLower(t.Trader) != normalized {
			continue
		}
		if t.Side == model.SideBuy {
			byMarket[t.MarketID] = byMarket[t.MarketID].Add(t.Total)
		} else {
			byMarket[t.MarketID] = byMarket[t.MarketID].Sub(t.Total)
		}
	}

	exposures := make([]limits.Exposure, 0, len(byMarket))
	for marketID, notional := range byMarket {
		category := model.CategoryOther
		if m := s.markets[marketID]; m != nil {
			category = m.Category
		}
		exposures = append(exposures, limits.Exposure{
			MarketID: marketID,
			Category: category,
			Notional: notional,
		})
	}
	return exposures, nil
}

func (s *MemoryStore) ClaimWinnings(_ context.Context, marketID, account string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	if m.Status != model.StatusResolved || m.ResolvedOutcome == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMarketNotResolved, marketID)
	}

	key := claimKey(marketID, account)
	if s.claims[key] {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAlreadyClaimed, key)
	}

	// Each winning share redeems for exactly 1.0 USD.
	payout := s.winningShares(marketID, *m.ResolvedOutcome, account)
	if !payout.IsPositive() {
		return decimal.Zero, nil
	}

	s.claims[key] = true
	return payout, nil
}

// winningShares returns the account's net shares in the winning outcome.
// Caller must hold the lock.
func (s *MemoryStore) winningShares(marketID string, outcomeIndex int, account string) decimal.Decimal {
	normalized := strings.ToLower(account)
	shares := decimal.Zero
	for _, t := range s.trades {
		if t.MarketID != marketID || t.OutcomeIndex != outcomeIndex {
			continue
		}
		if strings.ToLower(t.Trader) != normalized {
			continue
		}
		if t.Side == model.SideBuy {
			shares = shares.Add(t.Shares)
		} else {
			shares = shares.Sub(t.Shares)
		}
	}
	if shares.IsNegative() {
		return decimal.Zero
	}
	return shares
}
