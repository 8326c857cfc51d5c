package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/lifecycle"
	"github.com/zenguess/market-engine/internal/limits"
	"github.com/zenguess/market-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot single-market and portfolio reads. Writes go to the
// primary and invalidate the affected keys; list reads pass through since
// their results depend on the clock-derived status.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market, ev *model.ActivityEvent) error {
	if err := s.primary.CreateMarket(ctx, m, ev); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) RecordTrade(ctx context.Context, t *model.Trade, outcomes []model.Outcome, ev *model.ActivityEvent) error {
	if err := s.primary.RecordTrade(ctx, t, outcomes, ev); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the post-trade state.
	s.rdb.Del(ctx, marketKey(t.MarketID), portfolioKey(t.Trader))
	return nil
}

func (s *CachedStore) ResolveMarket(ctx context.Context, id string, outcomeIndex int, ev *model.ActivityEvent) (*model.Market, error) {
	m, err := s.primary.ResolveMarket(ctx, id, outcomeIndex, ev)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, marketKey(id))
	return m, nil
}

func (s *CachedStore) ClaimWinnings(ctx context.Context, marketID, account string) (decimal.Decimal, error) {
	return s.primary.ClaimWinnings(ctx, marketID, account)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			// Re-derive: a cached "open" market may have crossed endTime.
			return lifecycle.WithDerived(&m, time.Now().UTC()), nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetPortfolio(ctx context.Context, account string) ([]model.PortfolioPosition, error) {
	data, err := s.rdb.Get(ctx, portfolioKey(account)).Bytes()
	if err == nil {
		var positions []model.PortfolioPosition
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.GetPortfolio(ctx, account)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, portfolioKey(account), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context, filters model.ListFilters) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, filters)
}

func (s *CachedStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.ListTradesByMarket(ctx, marketID)
}

func (s *CachedStore) ListActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error) {
	return s.primary.ListActivity(ctx, limit)
}

func (s *CachedStore) TraderExposures(ctx context.Context, account string) ([]limits.Exposure, error) {
	return s.primary.TraderExposures(ctx, account)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }

func portfolioKey(account string) string {
	return fmt.Sprintf("portfolio:%s", strings.ToLower(account))
}
