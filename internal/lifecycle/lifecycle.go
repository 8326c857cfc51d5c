// Package lifecycle derives a market's effective status from its stored
// status and the clock. "resolved" is terminal and sticky; "closed" is an
// observation (now past endTime), never a stored transition, so a market
// whose clock context changes can derive back to open.
package lifecycle

import (
	"time"

	"github.com/zenguess/market-engine/internal/model"
)

// Derive returns the effective status of m at the given instant. Pure, total,
// and idempotent over all reachable market states.
func Derive(m *model.Market, now time.Time) model.Status {
	if m.Status == model.StatusResolved {
		return model.StatusResolved
	}
	if !now.Before(m.EndTime) {
		return model.StatusClosed
	}
	return model.StatusOpen
}

// WithDerived returns a copy of m with Status set to the derived value. The
// input is never mutated.
func WithDerived(m *model.Market, now time.Time) *model.Market {
	cp := m.Clone()
	cp.Status = Derive(m, now)
	return cp
}
