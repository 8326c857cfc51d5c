package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testMarket(id string, category model.Category, endsIn time.Duration) *model.Market {
	now := time.Now().UTC()
	return &model.Market{
		ID:        id,
		Question:  "Will " + id + " happen?",
		Category:  category,
		Status:    model.StatusOpen,
		Outcomes: []model.Outcome{
			{Label: "Yes", Probability: d(0.5)},
			{Label: "No", Probability: d(0.5)},
		},
		EndTime:   now.Add(endsIn),
		CreatedAt: now,
		Volume:    decimal.Zero,
		Liquidity: d(1000),
		Tags:      []string{"test"},
		Creator:   "0xabc",
	}
}

func testTrade(id, marketID, trader string, idx int, side model.Side, shares, price float64) *model.Trade {
	sh := d(shares)
	pr := d(price)
	return &model.Trade{
		ID:           id,
		MarketID:     marketID,
		Trader:       trader,
		OutcomeIndex: idx,
		OutcomeLabel: "Yes",
		Side:         side,
		Shares:       sh,
		Price:        pr,
		Total:        sh.Mul(pr),
		Timestamp:    time.Now().UTC(),
		TxHash:       "0x" + id,
	}
}

func mustCreate(t *testing.T, s *MemoryStore, m *model.Market) {
	t.Helper()
	ev := &model.ActivityEvent{
		ID:       "event_" + m.ID,
		Type:     model.EventMarketCreated,
		MarketID: m.ID, Timestamp: m.CreatedAt,
	}
	if err := s.CreateMarket(context.Background(), m, ev); err != nil {
		t.Fatalf("CreateMarket(%s): %v", m.ID, err)
	}
}

func TestGetMarketNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetMarket(context.Background(), "market_missing")
	if !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("err = %v, want ErrMarketNotFound", err)
	}
}

func TestCreateMarketRejectsDuplicate(t *testing.T) {
	s := NewMemoryStore()
	m := testMarket("market_dup", model.CategoryCrypto, time.Hour)
	mustCreate(t, s, m)
	if err := s.CreateMarket(context.Background(), m, nil); err == nil {
		t.Error("duplicate ID should be rejected")
	}
}

func TestGetMarketDerivesStatus(t *testing.T) {
	s := NewMemoryStore()
	mustCreate(t, s, testMarket("market_past", model.CategoryCrypto, -time.Hour))

	m, err := s.GetMarket(context.Background(), "market_past")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != model.StatusClosed {
		t.Errorf("status = %s, want closed (past end time)", m.Status)
	}
}

func TestGetMarketReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	mustCreate(t, s, testMarket("market_copy", model.CategoryCrypto, time.Hour))

	m1, _ := s.GetMarket(context.Background(), "market_copy")
	m1.Outcomes[0].Probability = d(0.99)
	m1.Question = "mutated"

	m2, _ := s.GetMarket(context.Background(), "market_copy")
	if !m2.Outcomes[0].Probability.Equal(d(0.5)) || m2.Question == "mutated" {
		t.Error("GetMarket must return a defensive copy")
	}
}

func TestRecordTradeAppendsLedgerAndBumpsVolume(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, testMarket("market_t", model.CategoryCrypto, time.Hour))

	tr := testTrade("trade_1", "market_t", "0xTrader", 0, model.SideBuy, 100, 0.5)
	ev := &model.ActivityEvent{ID: "event_t1", Type: model.EventTrade, MarketID: "market_t", Timestamp: tr.Timestamp}

	newOutcomes := []model.Outcome{
		{Label: "Yes", Probability: d(0.55)},
		{Label: "No", Probability: d(0.45)},
	}
	if err := s.RecordTrade(ctx, tr, newOutcomes, ev); err != nil {
		t.Fatal(err)
	}

	m, _ := s.GetMarket(ctx, "market_t")
	if !m.Volume.Equal(d(50)) {
		t.Errorf("volume = %s, want 50", m.Volume)
	}
	if !m.Outcomes[0].Probability.Equal(d(0.55)) {
		t.Errorf("outcome 0 = %s, want 0.55 (impact applied)", m.Outcomes[0].Probability)
	}

	trades, _ := s.ListTradesByMarket(ctx, "market_t")
	if len(trades) != 1 || trades[0].ID != "trade_1" {
		t.Fatalf("ledger = %v, want one trade_1", trades)
	}

	events, _ := s.ListActivity(ctx, 10)
	var tradeEvents int
	for _, e := range events {
		if e.Type == model.EventTrade {
			tradeEvents++
		}
	}
	if tradeEvents != 1 {
		t.Errorf("trade events = %d, want 1", tradeEvents)
	}
}

func TestRecordTradeNilOutcomesKeepsProbabilities(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, testMarket("market_n", model.CategoryCrypto, time.Hour))

	tr := testTrade("trade_n", "market_n", "0xTrader", 0, model.SideBuy, 10, 0.5)
	if err := s.RecordTrade(ctx, tr, nil, nil); err != nil {
		t.Fatal(err)
	}

	m, _ := s.GetMarket(ctx, "market_n")
	if !m.Outcomes[0].Probability.Equal(d(0.5)) {
		t.Errorf("probability moved without impact: %s", m.Outcomes[0].Probability)
	}
}

func TestRecordTradeUnknownMarket(t *testing.T) {
	s := NewMemoryStore()
	tr := testTrade("trade_x", "market_ghost", "0xTrader", 0, model.SideBuy, 10, 0.5)
	err := s.RecordTrade(context.Background(), tr, nil, nil)
	if !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("err = %v, want ErrMarketNotFound", err)
	}
}

func TestResolveMarketTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, testMarket("market_r", model.CategoryCrypto, -time.Hour))

	resolved, err := s.ResolveMarket(ctx, "market_r", 1, &model.ActivityEvent{
		ID: "event_r", Type: model.EventMarketResolved, MarketID: "market_r", Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != model.StatusResolved || resolved.ResolvedOutcome == nil || *resolved.ResolvedOutcome != 1 {
		t.Fatalf("resolved market state wrong: %+v", resolved)
	}

	// Second resolution must fail and the original outcome must stand.
	_, err = s.ResolveMarket(ctx, "market_r", 0, nil)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("re-resolve err = %v, want ErrAlreadyResolved", err)
	}
	m, _ := s.GetMarket(ctx, "market_r")
	if m.ResolvedOutcome == nil || *m.ResolvedOutcome != 1 {
		t.Error("re-resolve must not overwrite the original outcome")
	}
}

func TestResolveMarketInvalidOutcome(t *testing.T) {
	s := NewMemoryStore()
	mustCreate(t, s, testMarket("market_i", model.CategoryCrypto, time.Hour))

	for _, idx := range []int{-1, 2} {
		_, err := s.ResolveMarket(context.Background(), "market_i", idx, nil)
		if !errors.Is(err, ErrInvalidOutcome) {
			t.Errorf("index %d: err = %v, want ErrInvalidOutcome", idx, err)
		}
	}
}

func TestListMarketsFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	crypto := testMarket("market_c", model.CategoryCrypto, time.Hour)
	crypto.Question = "Will Bitcoin reach $150k?"
	crypto.Tags = []string{"bitcoin", "price"}
	mustCreate(t, s, crypto)

	sports := testMarket("market_s", model.CategorySports, 2*time.Hour)
	sports.Question = "Who wins the cup?"
	mustCreate(t, s, sports)

	past := testMarket("market_p", model.CategoryCrypto, -time.Hour)
	mustCreate(t, s, past)

	t.Run("category", func(t *testing.T) {
		got, _ := s.ListMarkets(ctx, model.ListFilters{Category: model.CategorySports})
		if len(got) != 1 || got[0].ID != "market_s" {
			t.Errorf("got %d markets", len(got))
		}
	})

	t.Run("derived status", func(t *testing.T) {
		got, _ := s.ListMarkets(ctx, model.ListFilters{Status: model.StatusClosed})
		if len(got) != 1 || got[0].ID != "market_p" {
			t.Errorf("closed filter should match only past end time, got %v", got)
		}
		got, _ = s.ListMarkets(ctx, model.ListFilters{Status: model.StatusOpen})
		if len(got) != 2 {
			t.Errorf("open filter: got %d, want 2", len(got))
		}
	})

	t.Run("query matches question", func(t *testing.T) {
		got, _ := s.ListMarkets(ctx, model.ListFilters{Query: "bitcoin"})
		if len(got) != 1 || got[0].ID != "market_c" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("query matches tags", func(t *testing.T) {
		got, _ := s.ListMarkets(ctx, model.ListFilters{Query: "PRICE"})
		if len(got) != 1 || got[0].ID != "market_c" {
			t.Errorf("query should be case-insensitive over tags, got %v", got)
		}
	})

	t.Run("no match", func(t *testing.T) {
		got, _ := s.ListMarkets(ctx, model.ListFilters{Query: "zzzz"})
		if len(got) != 0 {
			t.Errorf("got %v", got)
		}
	})
}

func TestListMarketsSorts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	a := testMarket("market_a", model.CategoryCrypto, 3*time.Hour)
	a.Volume = d(100)
	a.Liquidity = d(900)
	a.CreatedAt = now.Add(-3 * time.Hour)
	mustCreate(t, s, a)

	b := testMarket("market_b", model.CategoryCrypto, time.Hour)
	b.Volume = d(300)
	b.Liquidity = d(100)
	b.CreatedAt = now.Add(-1 * time.Hour)
	mustCreate(t, s, b)

	c := testMarket("market_c", model.CategoryCrypto, 2*time.Hour)
	c.Volume = d(200)
	c.Liquidity = d(500)
	c.CreatedAt = now.Add(-2 * time.Hour)
	mustCreate(t, s, c)

	ids := func(ms []model.Market) []string {
		out := make([]string, len(ms))
		for i, m := range ms {
			out[i] = m.ID
		}
		return out
	}
	eq := func(got, want []string) bool {
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}

	tests := []struct {
		sort model.Sort
		want []string
	}{
		{"", []string{"market_b", "market_c", "market_a"}}, // default volume desc
		{model.SortVolume, []string{"market_b", "market_c", "market_a"}},
		{model.SortNewest, []string{"market_b", "market_c", "market_a"}},
		{model.SortEndingSoon, []string{"market_b", "market_c", "market_a"}},
		{model.SortLiquidity, []string{"market_a", "market_c", "market_b"}},
	}
	for _, tt := range tests {
		got, _ := s.ListMarkets(ctx, model.ListFilters{Sort: tt.sort})
		if !eq(ids(got), tt.want) {
			t.Errorf("sort %q: got %v, want %v", tt.sort, ids(got), tt.want)
		}
	}
}

func TestListActivityNewestFirstAndClamped(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, testMarket("market_act", model.CategoryCrypto, time.Hour))

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		tr := testTrade(fmt.Sprintf("trade_%d", i), "market_act", "0xT", 0, model.SideBuy, 1, 0.5)
		tr.Timestamp = base.Add(time.Duration(i) * time.Minute)
		ev := &model.ActivityEvent{
			ID:        fmt.Sprintf("event_%d", i),
			Type:      model.EventTrade,
			MarketID:  "market_act",
			Timestamp: tr.Timestamp,
		}
		if err := s.RecordTrade(ctx, tr, nil, ev); err != nil {
			t.Fatal(err)
		}
	}

	events, _ := s.ListActivity(ctx, 3)
	if len(events) != 3 {
		t.Fatalf("limit: got %d events", len(events))
	}
	if events[0].ID != "event_4" {
		t.Errorf("newest first: got %s", events[0].ID)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.After(events[i-1].Timestamp) {
			t.Error("events out of order")
		}
	}

	// Out-of-range limits clamp rather than error.
	events, _ = s.ListActivity(ctx, -5)
	if len(events) != 6 { // default limit exceeds the 6 stored events
		t.Errorf("negative limit: got %d events, want 6", len(events))
	}
	events, _ = s.ListActivity(ctx, 10000)
	if len(events) != 6 { // 1 creation + 5 trades
		t.Errorf("huge limit: got %d events, want 6", len(events))
	}
}

func TestGetPortfolioVWAPAndPnL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	m := testMarket("market_pf", model.CategoryCrypto, time.Hour)
	m.Outcomes[0].Probability = d(0.7)
	m.Outcomes[1].Probability = d(0.3)
	mustCreate(t, s, m)

	// Two buys at different prices, one partial sell.
	s.RecordTrade(ctx, testTrade("trade_1", "market_pf", "0xAlice", 0, model.SideBuy, 100, 0.5), nil, nil)
	s.RecordTrade(ctx, testTrade("trade_2", "market_pf", "0xAlice", 0, model.SideBuy, 100, 0.7), nil, nil)
	s.RecordTrade(ctx, testTrade("trade_3", "market_pf", "0xALICE", 0, model.SideSell, 50, 0.6), nil, nil)

	positions, err := s.GetPortfolio(ctx, "0xalice")
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}

	p := positions[0]
	if !p.Shares.Equal(d(150)) {
		t.Errorf("net shares = %s, want 150", p.Shares)
	}
	// VWAP over buys only: (100*0.5 + 100*0.7) / 200 = 0.6.
	if !p.AvgPrice.Equal(d(0.6)) {
		t.Errorf("avg price = %s, want 0.6", p.AvgPrice)
	}
	if !p.CurrentPrice.Equal(d(0.7)) {
		t.Errorf("current price = %s, want 0.7", p.CurrentPrice)
	}
	// 150 × (0.7 − 0.6) = 15.
	if !p.PnL.Equal(d(15)) {
		t.Errorf("pnl = %s, want 15", p.PnL)
	}
}

func TestGetPortfolioSkipsFlatPositions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, testMarket("market_flat", model.CategoryCrypto, time.Hour))

	s.RecordTrade(ctx, testTrade("trade_1", "market_flat", "0xBob", 0, model.SideBuy, 100, 0.5), nil, nil)
	s.RecordTrade(ctx, testTrade("trade_2", "market_flat", "0xBob", 0, model.SideSell, 100, 0.5), nil, nil)

	positions, _ := s.GetPortfolio(ctx, "0xBob")
	if len(positions) != 0 {
		t.Errorf("flat position should be omitted, got %v", positions)
	}
}

func TestTraderExposures(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, testMarket("market_e1", model.CategoryCrypto, time.Hour))
	mustCreate(t, s, testMarket("market_e2", model.CategorySports, time.Hour))

	s.RecordTrade(ctx, testTrade("trade_1", "market_e1", "0xCarol", 0, model.SideBuy, 100, 0.5), nil, nil)
	s.RecordTrade(ctx, testTrade("trade_2", "market_e1", "0xCarol", 0, model.SideSell, 20, 0.5), nil, nil)
	s.RecordTrade(ctx, testTrade("trade_3", "market_e2", "0xCarol", 0, model.SideBuy, 40, 0.25), nil, nil)

	exposures, err := s.TraderExposures(ctx, "0xcarol")
	if err != nil {
		t.Fatal(err)
	}
	if len(exposures) != 2 {
		t.Fatalf("got %d exposures, want 2", len(exposures))
	}

	byMarket := make(map[string]decimal.Decimal)
	categories := make(map[string]model.Category)
	for _, e := range exposures {
		byMarket[e.MarketID] = e.Notional
		categories[e.MarketID] = e.Category
	}
	// market_e1: 100×0.5 − 20×0.5 = 40.
	if !byMarket["market_e1"].Equal(d(40)) {
		t.Errorf("market_e1 notional = %s, want 40", byMarket["market_e1"])
	}
	if !byMarket["market_e2"].Equal(d(10)) {
		t.Errorf("market_e2 notional = %s, want 10", byMarket["market_e2"])
	}
	if categories["market_e2"] != model.CategorySports {
		t.Errorf("market_e2 category = %s", categories["market_e2"])
	}
}

func TestClaimWinnings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, testMarket("market_cw", model.CategoryCrypto, -time.Hour))

	s.RecordTrade(ctx, testTrade("trade_1", "market_cw", "0xDave", 0, model.SideBuy, 120, 0.5), nil, nil)
	s.RecordTrade(ctx, testTrade("trade_2", "market_cw", "0xDave", 1, model.SideBuy, 30, 0.5), nil, nil)

	// Before resolution: rejected.
	_, err := s.ClaimWinnings(ctx, "market_cw", "0xDave")
	if !errors.Is(err, ErrMarketNotResolved) {
		t.Fatalf("pre-resolution err = %v, want ErrMarketNotResolved", err)
	}

	if _, err := s.ResolveMarket(ctx, "market_cw", 0, nil); err != nil {
		t.Fatal(err)
	}

	// Winning shares redeem 1:1; the losing outcome pays nothing.
	payout, err := s.ClaimWinnings(ctx, "market_cw", "0xDave")
	if err != nil {
		t.Fatal(err)
	}
	if !payout.Equal(d(120)) {
		t.Errorf("payout = %s, want 120", payout)
	}

	// Second claim is rejected: idempotence.
	_, err = s.ClaimWinnings(ctx, "market_cw", "0xdave")
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("double claim err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestClaimWinningsNoPosition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	mustCreate(t, s, testMarket("market_np", model.CategoryCrypto, -time.Hour))
	if _, err := s.ResolveMarket(ctx, "market_np", 0, nil); err != nil {
		t.Fatal(err)
	}

	// Zero shares: zero payout, no error, and the claim is not consumed.
	payout, err := s.ClaimWinnings(ctx, "market_np", "0xEve")
	if err != nil || !payout.IsZero() {
		t.Fatalf("payout = %s, err = %v", payout, err)
	}
	if _, err := s.ClaimWinnings(ctx, "market_np", "0xEve"); err != nil {
		t.Errorf("zero-payout claim should not mark claimed: %v", err)
	}
}

func TestClampActivityLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultActivityLimit},
		{-1, DefaultActivityLimit},
		{50, 50},
		{MaxActivityLimit + 1, MaxActivityLimit},
	}
	for _, tt := range tests {
		if got := ClampActivityLimit(tt.in); got != tt.want {
			t.Errorf("ClampActivityLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
