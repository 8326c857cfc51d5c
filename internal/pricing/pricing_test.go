package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/model"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestClampProbability(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below floor", 0, 0.01},
		{"negative", -3, 0.01},
		{"above ceiling", 2, 0.99},
		{"exactly one", 1, 0.99},
		{"in range", 0.5, 0.5},
		{"at floor", 0.01, 0.01},
		{"at ceiling", 0.99, 0.99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampProbability(d(tt.in))
			if !got.Equal(d(tt.want)) {
				t.Errorf("ClampProbability(%v) = %s, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestProbabilityFromFloat(t *testing.T) {
	if got := ProbabilityFromFloat(math.NaN()); !got.Equal(d(0.5)) {
		t.Errorf("NaN should map to 0.5, got %s", got)
	}
	if got := ProbabilityFromFloat(math.Inf(1)); !got.Equal(d(0.5)) {
		t.Errorf("+Inf should map to 0.5, got %s", got)
	}
	if got := ProbabilityFromFloat(math.Inf(-1)); !got.Equal(d(0.5)) {
		t.Errorf("-Inf should map to 0.5, got %s", got)
	}
	if got := ProbabilityFromFloat(0.62); !got.Equal(d(0.62)) {
		t.Errorf("finite value should clamp-pass, got %s", got)
	}
	if got := ProbabilityFromFloat(42); !got.Equal(d(0.99)) {
		t.Errorf("large value should clamp to 0.99, got %s", got)
	}
}

func TestSimulateBuy(t *testing.T) {
	// $100 at p=0.5 with 2% fee: fee 2, shares (100-2)/0.5 = 196, cost 100.
	q := Simulate(d(100), d(0.5), model.SideBuy, d(0.02))

	if !q.Fee.Equal(d(2)) {
		t.Errorf("fee = %s, want 2", q.Fee)
	}
	if !q.EstimatedShares.Equal(d(196)) {
		t.Errorf("shares = %s, want 196", q.EstimatedShares)
	}
	if !q.EstimatedCost.Equal(d(100)) {
		t.Errorf("cost = %s, want 100", q.EstimatedCost)
	}
	if !q.AveragePrice.Equal(d(0.5)) {
		t.Errorf("avg price = %s, want 0.5", q.AveragePrice)
	}
}

func TestSimulateSell(t *testing.T) {
	// Selling 100 at p=0.6 with 2% fee: shares 60, net proceeds 98.
	q := Simulate(d(100), d(0.6), model.SideSell, d(0.02))

	if !q.Fee.Equal(d(2)) {
		t.Errorf("fee = %s, want 2", q.Fee)
	}
	if !q.EstimatedShares.Equal(d(60)) {
		t.Errorf("shares = %s, want 60", q.EstimatedShares)
	}
	if !q.EstimatedCost.Equal(d(98)) {
		t.Errorf("cost = %s, want 98", q.EstimatedCost)
	}
	if !q.AveragePrice.Equal(d(0.6)) {
		t.Errorf("avg price = %s, want 0.6", q.AveragePrice)
	}
}

func TestSimulateClampsExtremeProbability(t *testing.T) {
	// p=0 clamps to 0.01 so buying never divides by zero.
	q := Simulate(d(100), d(0), model.SideBuy, d(0.02))
	if !q.AveragePrice.Equal(d(0.01)) {
		t.Errorf("avg price = %s, want 0.01", q.AveragePrice)
	}
	if !q.EstimatedShares.Equal(d(9800)) {
		t.Errorf("shares = %s, want 9800", q.EstimatedShares)
	}
}

func TestSimulateDefensiveClamps(t *testing.T) {
	// Negative amount clamps to zero: everything is zero.
	q := Simulate(d(-50), d(0.5), model.SideBuy, d(0.02))
	if !q.EstimatedShares.IsZero() || !q.EstimatedCost.IsZero() || !q.Fee.IsZero() {
		t.Errorf("negative amount should quote zero, got %+v", q)
	}

	// Fee rate above the cap clamps to 10%.
	q = Simulate(d(100), d(0.5), model.SideBuy, d(0.5))
	if !q.Fee.Equal(d(10)) {
		t.Errorf("fee = %s, want 10 (capped rate)", q.Fee)
	}

	// Negative fee rate clamps to zero.
	q = Simulate(d(100), d(0.5), model.SideBuy, d(-1))
	if !q.Fee.IsZero() {
		t.Errorf("fee = %s, want 0", q.Fee)
	}
}

func TestSimulateDeterministic(t *testing.T) {
	a := Simulate(d(37.5), d(0.42), model.SideBuy, d(0.02))
	b := Simulate(d(37.5), d(0.42), model.SideBuy, d(0.02))
	if !a.EstimatedShares.Equal(b.EstimatedShares) || !a.Fee.Equal(b.Fee) {
		t.Errorf("identical inputs produced different quotes: %+v vs %+v", a, b)
	}
}

func TestPriceHistory(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	points := PriceHistory(0.5, 0.62, 30, now)

	if len(points) != 31 {
		t.Fatalf("expected 31 points, got %d", len(points))
	}
	if points[len(points)-1].Date != "2026-03-15" {
		t.Errorf("last point date = %s, want 2026-03-15", points[len(points)-1].Date)
	}
	for _, p := range points {
		if p.Yes < 1 || p.Yes > 99 {
			t.Errorf("yes %% out of range: %d on %s", p.Yes, p.Date)
		}
		if sum := p.Yes + p.No; sum < 99 || sum > 101 {
			t.Errorf("yes+no = %d on %s, want ~100", sum, p.Date)
		}
	}

	// Same inputs, same series.
	again := PriceHistory(0.5, 0.62, 30, now)
	for i := range points {
		if points[i] != again[i] {
			t.Fatalf("history not deterministic at index %d", i)
		}
	}
}

func TestPriceHistoryMinimumDays(t *testing.T) {
	points := PriceHistory(0.5, 0.5, 0, time.Now())
	if len(points) != 2 {
		t.Errorf("days<1 should clamp to 1 (2 points), got %d", len(points))
	}
}
