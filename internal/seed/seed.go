// Package seed loads a development dataset into a store: a spread of markets
// across categories, a handful of trades, one resolved market, and one whose
// end time has already passed. Intended for the in-memory store so the API is
// explorable without a database.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/model"
	"github.com/zenguess/market-engine/internal/store"
)

type seedMarket struct {
	id            string
	question      string
	description   string
	category      model.Category
	outcomes      []model.Outcome
	endsIn        time.Duration // negative = already closed
	volume        float64
	liquidity     float64
	resolved      *int
	resolutionSrc string
	tags          []string
	creator       string
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func markets() []seedMarket {
	return []seedMarket{
		{
			id:          "market_btc150k",
			question:    "Will Bitcoin reach $150,000 by end of 2026?",
			description: "Resolves YES if BTC/USD trades at or above $150,000 on any major exchange before Jan 1 2027.",
			category:    model.CategoryCrypto,
			outcomes: []model.Outcome{
				{Label: "Yes", Probability: d(0.62)},
				{Label: "No", Probability: d(0.38)},
			},
			endsIn:        120 * 24 * time.Hour,
			volume:        2400000,
			liquidity:     850000,
			resolutionSrc: "Coinbase BTC/USD daily high",
			tags:          []string{"bitcoin", "crypto", "price"},
			creator:       "0xa1b2c3d4e5f60718293a4b5c6d7e8f9012345678",
		},
		{
			id:          "market_ethflip",
			question:    "Will Ethereum flip Bitcoin by market cap in 2027?",
			description: "Resolves YES if ETH market capitalization exceeds BTC market capitalization at any point during 2027.",
			category:    model.CategoryCrypto,
			outcomes: []model.Outcome{
				{Label: "Yes", Probability: d(0.09)},
				{Label: "No", Probability: d(0.91)},
			},
			endsIn:        500 * 24 * time.Hour,
			volume:        680000,
			liquidity:     210000,
			resolutionSrc: "CoinGecko market cap snapshot",
			tags:          []string{"ethereum", "bitcoin", "flippening"},
			creator:       "0xa1b2c3d4e5f60718293a4b5c6d7e8f9012345678",
		},
		{
			id:          "market_useelection",
			question:    "Will turnout exceed 65% in the 2028 US presidential election?",
			description: "Resolves YES if the certified voting-eligible-population turnout exceeds 65%.",
			category:    model.CategoryPolitics,
			outcomes: []model.Outcome{
				{Label: "Yes", Probability: d(0.41)},
				{Label: "No", Probability: d(0.59)},
			},
			endsIn:        800 * 24 * time.Hour,
			volume:        1250000,
			liquidity:     430000,
			resolutionSrc: "US Elections Project",
			tags:          []string{"election", "politics", "turnout"},
			creator:       "0xb2c3d4e5f60718293a4b5c6d7e8f90123456789a",
		},
		{
			id:          "market_worldcup",
			question:    "Who will win the 2026 FIFA World Cup?",
			description: "Multi-outcome market over the four favourites; resolves to the tournament winner.",
			category:    model.CategorySports,
			outcomes: []model.Outcome{
				{Label: "Brazil", Probability: d(0.24)},
				{Label: "France", Probability: d(0.21)},
				{Label: "Argentina", Probability: d(0.19)},
				{Label: "Other", Probability: d(0.36)},
			},
			endsIn:        300 * 24 * time.Hour,
			volume:        3100000,
			liquidity:     990000,
			resolutionSrc: "FIFA official result",
			tags:          []string{"football", "world-cup", "sports"},
			creator:       "0xc3d4e5f60718293a4b5c6d7e8f90123456789ab2",
		},
		{
			id:          "market_agi2030",
			question:    "Will an AI system pass a rigorous Turing test by 2030?",
			description: "Resolves YES if a peer-reviewed adversarial Turing test is passed by any AI system before 2030.",
			category:    model.CategoryScience,
			outcomes: []model.Outcome{
				{Label: "Yes", Probability: d(0.55)},
				{Label: "No", Probability: d(0.45)},
			},
			endsIn:        1200 * 24 * time.Hour,
			volume:        890000,
			liquidity:     320000,
			resolutionSrc: "Peer-reviewed publication",
			tags:          []string{"ai", "science", "turing"},
			creator:       "0xd4e5f60718293a4b5c6d7e8f90123456789ab2c3",
		},
		{
			id:          "market_recession",
			question:    "Will the US enter a recession in 2026?",
			description: "Resolves YES if NBER declares a recession beginning in calendar year 2026.",
			category:    model.CategoryEconomics,
			outcomes: []model.Outcome{
				{Label: "Yes", Probability: d(0.28)},
				{Label: "No", Probability: d(0.72)},
			},
			endsIn:        200 * 24 * time.Hour,
			volume:        1750000,
			liquidity:     560000,
			resolutionSrc: "NBER business cycle dating",
			tags:          []string{"recession", "economy", "nber"},
			creator:       "0xe5f60718293a4b5c6d7e8f90123456789ab2c3d4",
		},
		{
			// Already past its end time: derived status is closed.
			id:          "market_halving",
			question:    "Will the Bitcoin halving occur before April 20 2024?",
			description: "Resolves YES if block 840000 is mined before April 20 2024 00:00 UTC.",
			category:    model.CategoryCrypto,
			outcomes: []model.Outcome{
				{Label: "Yes", Probability: d(0.97)},
				{Label: "No", Probability: d(0.03)},
			},
			endsIn:        -30 * 24 * time.Hour,
			volume:        420000,
			liquidity:     150000,
			resolutionSrc: "Bitcoin block explorer",
			tags:          []string{"bitcoin", "halving"},
			creator:       "0xf60718293a4b5c6d7e8f90123456789ab2c3d4e5",
		},
		{
			// Resolved market so claim flows are exercisable out of the box.
			id:          "market_oscars",
			question:    "Did Oppenheimer win Best Picture at the 2024 Oscars?",
			description: "Resolved from the Academy Awards ceremony result.",
			category:    model.CategoryCulture,
			outcomes: []model.Outcome{
				{Label: "Yes", Probability: d(0.99)},
				{Label: "No", Probability: d(0.01)},
			},
			endsIn:        -60 * 24 * time.Hour,
			volume:        310000,
			liquidity:     95000,
			resolved:      intPtr(0),
			resolutionSrc: "Academy Awards",
			tags:          []string{"oscars", "film", "culture"},
			creator:       "0x0718293a4b5c6d7e8f90123456789ab2c3d4e5f6",
		},
	}
}

func intPtr(i int) *int { return &i }

// Apply loads the seed dataset. Markets, their creation events, a few trades,
// and one resolution are committed through the store's own primitives so every
// invariant the store enforces also holds for seeded data.
func Apply(ctx context.Context, st store.Store) error {
	now := time.Now().UTC()

	for i, sm := range markets() {
		created := now.Add(-time.Duration(90-i*7) * 24 * time.Hour)
		m := model.Market{
			ID:               sm.id,
			Question:         sm.question,
			Description:      sm.description,
			Category:         sm.category,
			Status:           model.StatusOpen,
			Outcomes:         sm.outcomes,
			EndTime:          now.Add(sm.endsIn),
			CreatedAt:        created,
			Volume:           d(sm.volume),
			Liquidity:        d(sm.liquidity),
			ResolutionSource: sm.resolutionSrc,
			Tags:             sm.tags,
			Creator:          sm.creator,
		}
		ev := model.ActivityEvent{
			ID:          fmt.Sprintf("event_seed%04d", i),
			Type:        model.EventMarketCreated,
			MarketID:    m.ID,
			MarketTitle: m.Question,
			Description: fmt.Sprintf("New market created with $%s initial liquidity", m.Liquidity.StringFixed(0)),
			Actor:       m.Creator,
			Timestamp:   created,
			TxHash:      seedTxHash(i),
		}
		if err := st.CreateMarket(ctx, &m, &ev); err != nil {
			return fmt.Errorf("seed: create %s: %w", m.ID, err)
		}

		if sm.resolved != nil {
			rev := model.ActivityEvent{
				ID:          fmt.Sprintf("event_seedr%03d", i),
				Type:        model.EventMarketResolved,
				MarketID:    m.ID,
				MarketTitle: m.Question,
				Description: fmt.Sprintf("Market resolved: %s", sm.outcomes[*sm.resolved].Label),
				Actor:       "seed",
				Timestamp:   now.Add(-24 * time.Hour),
				TxHash:      seedTxHash(100 + i),
				Metadata:    map[string]string{"outcome": sm.outcomes[*sm.resolved].Label},
			}
			if _, err := st.ResolveMarket(ctx, m.ID, *sm.resolved, &rev); err != nil {
				return fmt.Errorf("seed: resolve %s: %w", m.ID, err)
			}
		}
	}

	return seedTrades(ctx, st, now)
}

// seedTrades appends a small ledger so portfolio and activity views have data.
func seedTrades(ctx context.Context, st store.Store, now time.Time) error {
	trader := "0x9f8e7d6c5b4a392817065f4e3d2c1b0a98765432"
	rows := []struct {
		marketID string
		idx      int
		label    string
		side     model.Side
		shares   float64
		price    float64
	}{
		{"market_btc150k", 0, "Yes", model.SideBuy, 158.0645, 0.62},
		{"market_btc150k", 0, "Yes", model.SideBuy, 81.6667, 0.60},
		{"market_worldcup", 1, "France", model.SideBuy, 466.6667, 0.21},
		{"market_recession", 0, "Yes", model.SideSell, 14.0, 0.28},
		{"market_oscars", 0, "Yes", model.SideBuy, 98.9899, 0.99},
	}

	for i, r := range rows {
		shares := d(r.shares).Round(4)
		price := d(r.price)
		total := shares.Mul(price).Round(4)
		t := model.Trade{
			ID:           fmt.Sprintf("trade_seed%04d", i),
			MarketID:     r.marketID,
			Trader:       trader,
			OutcomeIndex: r.idx,
			OutcomeLabel: r.label,
			Side:         r.side,
			Shares:       shares,
			Price:        price,
			Total:        total,
			Timestamp:    now.Add(-time.Duration(len(rows)-i) * time.Hour),
			TxHash:       seedTxHash(200 + i),
		}
		ev := model.ActivityEvent{
			ID:          fmt.Sprintf("event_seedt%03d", i),
			Type:        model.EventTrade,
			MarketID:    r.marketID,
			Description: fmt.Sprintf("%s %s %s shares at $%s", upperSide(r.side), shares.StringFixed(2), r.label, price.StringFixed(2)),
			Actor:       trader,
			Timestamp:   t.Timestamp,
			TxHash:      t.TxHash,
			Metadata: map[string]string{
				"outcomeIndex": fmt.Sprintf("%d", r.idx),
				"shares":       shares.String(),
				"total":        total.String(),
			},
		}
		// nil outcomes: seeded trades do not move the pre-set probabilities.
		if err := st.RecordTrade(ctx, &t, nil, &ev); err != nil {
			return fmt.Errorf("seed: trade %s: %w", t.ID, err)
		}
	}
	return nil
}

func upperSide(s model.Side) string {
	if s == model.SideSell {
		return "SELL"
	}
	return "BUY"
}

// seedTxHash returns a deterministic, visually plausible transaction token.
func seedTxHash(n int) string {
	return fmt.Sprintf("0x%064x", 0x5eed0000+n)
}
