// Package engine is the settlement/quoting facade, the only entry point
// external layers use. It orchestrates the pricing model and the ledger
// store: read-only quotes, quote-then-commit trade execution, market
// creation, resolution, and winnings claims.
//
// A single mutex serializes all mutating operations. The engine is built for
// a single-writer, in-process execution model; quote-then-commit is safe
// because nothing can interleave between the quote and the commit while the
// lock is held.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/impact"
	"github.com/zenguess/market-engine/internal/lifecycle"
	"github.com/zenguess/market-engine/internal/limits"
	"github.com/zenguess/market-engine/internal/model"
	"github.com/zenguess/market-engine/internal/pricing"
	"github.com/zenguess/market-engine/internal/store"
)

var (
	// ErrMarketNotOpen is returned when submitting a trade against a market
	// whose derived status is closed or resolved.
	ErrMarketNotOpen = errors.New("engine: market is not open for trading")

	// ErrTooFewOutcomes is returned when creating a market with fewer than
	// two outcomes.
	ErrTooFewOutcomes = errors.New("engine: market needs at least two outcomes")

	// ErrSlippageExceeded is returned when the market's probability moved
	// beyond the caller's tolerance between quote and commit.
	ErrSlippageExceeded = errors.New("engine: price moved beyond slippage tolerance")
)

// RecordScale is the fixed decimal precision applied to monetary fields at
// the trade-record boundary. Quotes keep full precision; persisted trades
// round here so floating noise never reaches displayed totals.
const RecordScale int32 = 4

// Notifier receives every activity event the engine commits, in commit
// order. Used for real-time feed broadcasting; nil disables it.
type Notifier interface {
	Publish(ev model.ActivityEvent)
}

// Engine is the facade over the ledger store. Stateless apart from its
// configuration; all mutable entity state lives in the store.
type Engine struct {
	store    store.Store
	strategy impact.Strategy
	limiter  *limits.PositionLimiter
	feeRate  decimal.Decimal
	notifier Notifier
	mu       sync.Mutex
}

// New creates an engine. strategy may be nil (defaults to pass-through),
// limiter may be nil (no position limits), notifier may be nil.
func New(st store.Store, strategy impact.Strategy, limiter *limits.PositionLimiter, feeRate decimal.Decimal, notifier Notifier) *Engine {
	if strategy == nil {
		strategy = impact.PassThrough{}
	}
	if feeRate.LessThanOrEqual(decimal.Zero) {
		feeRate = pricing.DefaultFeeRate
	}
	return &Engine{
		store:    st,
		strategy: strategy,
		limiter:  limiter,
		feeRate:  feeRate,
		notifier: notifier,
	}
}

// SubmitTradeInput carries a validated trade intent.
type SubmitTradeInput struct {
	MarketID     string          `json:"marketId"`
	OutcomeIndex int             `json:"outcomeIndex"`
	Amount       decimal.Decimal `json:"amount"`
	Side         model.Side      `json:"side"`
	Slippage     decimal.Decimal `json:"slippage"` // percent tolerance, 0 = unchecked
	Trader       string          `json:"trader"`
}

// SubmitTradeResult is the commit receipt: the generated transaction
// identifier and the persisted trade record.
type SubmitTradeResult struct {
	TxHash string      `json:"txHash"`
	Trade  model.Trade `json:"trade"`
}

// SimulateTrade quotes a prospective trade without touching state. An
// out-of-bounds outcome index quotes at the uninformative 0.5 — permissive
// by contract, not an error. Fails only with a market lookup miss.
func (e *Engine) SimulateTrade(ctx context.Context, marketID string, outcomeIndex int, amount decimal.Decimal, side model.Side) (pricing.Quote, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return pricing.Quote{}, err
	}
	return pricing.Simulate(amount, outcomeProbability(m, outcomeIndex), side, e.feeRate), nil
}

// outcomeProbability returns the outcome's current probability, or 0.5 when
// the index is out of bounds.
func outcomeProbability(m *model.Market, outcomeIndex int) decimal.Decimal {
	if outcomeIndex < 0 || outcomeIndex >= len(m.Outcomes) {
		return decimal.NewFromFloat(0.5)
	}
	return m.Outcomes[outcomeIndex].Probability
}

// SubmitTrade executes a trade: quote, position-limit and slippage checks,
// then an atomic commit of the trade record, volume bump, post-impact
// probabilities, and activity event.
func (e *Engine) SubmitTrade(ctx context.Context, in SubmitTradeInput) (*SubmitTradeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMarket(ctx, in.MarketID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if lifecycle.Derive(m, now) != model.StatusOpen {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotOpen, m.ID)
	}

	probability := outcomeProbability(m, in.OutcomeIndex)
	quote := pricing.Simulate(in.Amount, probability, in.Side, e.feeRate)

	if err := e.checkLimits(ctx, in, quote.EstimatedCost, m.Category); err != nil {
		return nil, err
	}
	if err := checkSlippage(quote.AveragePrice, pricing.ClampProbability(probability), in.Slippage); err != nil {
		return nil, err
	}

	trade := model.Trade{
		ID:           newID("trade"),
		MarketID:     m.ID,
		Trader:       in.Trader,
		OutcomeIndex: in.OutcomeIndex,
		OutcomeLabel: outcomeLabel(m, in.OutcomeIndex),
		Side:         in.Side,
		Shares:       quote.EstimatedShares.Round(RecordScale),
		Price:        quote.AveragePrice.Round(RecordScale),
		Total:        quote.EstimatedCost.Round(RecordScale),
		Timestamp:    now,
		TxHash:       newTxHash(),
	}

	outcomes := e.strategy.Apply(m.Outcomes, in.OutcomeIndex, in.Side, trade.Shares)

	ev := model.ActivityEvent{
		ID:          newID("event"),
		Type:        model.EventTrade,
		MarketID:    m.ID,
		MarketTitle: m.Question,
		Description: fmt.Sprintf("%s %s %s shares at $%s",
			strings.ToUpper(string(in.Side)),
			trade.Shares.StringFixed(2),
			trade.OutcomeLabel,
			trade.Price.StringFixed(2)),
		Actor:     in.Trader,
		Timestamp: now,
		TxHash:    trade.TxHash,
		Metadata: map[string]string{
			"outcomeIndex": strconv.Itoa(in.OutcomeIndex),
			"shares":       trade.Shares.String(),
			"total":        trade.Total.String(),
		},
	}

	if err := e.store.RecordTrade(ctx, &trade, outcomes, &ev); err != nil {
		return nil, err
	}

	slog.Info("trade executed",
		"trade_id", trade.ID,
		"market_id", m.ID,
		"trader", in.Trader,
		"side", in.Side,
		"shares", trade.Shares.String(),
		"total", trade.Total.String(),
		"price", trade.Price.String(),
	)

	e.publish(ev)
	return &SubmitTradeResult{TxHash: trade.TxHash, Trade: trade}, nil
}

func (e *Engine) checkLimits(ctx context.Context, in SubmitTradeInput, cost decimal.Decimal, category model.Category) error {
	if e.limiter == nil {
		return nil
	}
	exposures, err := e.store.TraderExposures(ctx, in.Trader)
	if err != nil {
		return err
	}
	delta := cost
	if in.Side == model.SideSell {
		delta = cost.Neg()
	}
	return e.limiter.CheckLimit(in.MarketID, category, delta, exposures)
}

// checkSlippage compares the quoted execution price against the market's
// probability at commit time. Under the engine mutex the two are always
// equal for pass-through pricing; the guard matters once an impact strategy
// moves prices between independent submissions.
func checkSlippage(quoted, current, tolerancePct decimal.Decimal) error {
	if !tolerancePct.IsPositive() || quoted.IsZero() {
		return nil
	}
	deviation := current.Sub(quoted).Abs().Div(quoted).Mul(decimal.NewFromInt(100))
	if deviation.GreaterThan(tolerancePct) {
		return fmt.Errorf("%w: %s%% > %s%%", ErrSlippageExceeded, deviation.StringFixed(2), tolerancePct.String())
	}
	return nil
}

// outcomeLabel snapshots the outcome's label for denormalized storage.
func outcomeLabel(m *model.Market, outcomeIndex int) string {
	if outcomeIndex < 0 || outcomeIndex >= len(m.Outcomes) {
		return "Outcome"
	}
	return m.Outcomes[outcomeIndex].Label
}

// CreateMarket creates a market with a uniform 1/N prior over its outcomes,
// zero volume, and the creator's initial liquidity, appending the
// market_created event atomically.
func (e *Engine) CreateMarket(ctx context.Context, in model.CreateMarketInput) (*model.Market, error) {
	if len(in.Outcomes) < 2 {
		return nil, ErrTooFewOutcomes
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	uniform := decimal.NewFromInt(1).
		Div(decimal.NewFromInt(int64(len(in.Outcomes)))).
		Round(RecordScale)

	outcomes := make([]model.Outcome, len(in.Outcomes))
	for i, label := range in.Outcomes {
		outcomes[i] = model.Outcome{Label: label, Probability: uniform}
	}

	category := in.Category
	if !category.Valid() {
		category = model.CategoryOther
	}

	m := model.Market{
		ID:               newID("market"),
		Question:         in.Question,
		Description:      in.Description,
		Category:         category,
		Status:           model.StatusOpen,
		Outcomes:         outcomes,
		EndTime:          in.EndTime,
		CreatedAt:        now,
		Volume:           decimal.Zero,
		Liquidity:        in.InitialLiquidity,
		ResolutionSource: in.ResolutionSource,
		Tags:             in.Tags,
		Creator:          in.Creator,
	}

	ev := model.ActivityEvent{
		ID:          newID("event"),
		Type:        model.EventMarketCreated,
		MarketID:    m.ID,
		MarketTitle: m.Question,
		Description: fmt.Sprintf("New market created with $%s initial liquidity", m.Liquidity.StringFixed(0)),
		Actor:       m.Creator,
		Timestamp:   now,
		TxHash:      newTxHash(),
	}

	if err := e.store.CreateMarket(ctx, &m, &ev); err != nil {
		return nil, err
	}

	slog.Info("market created",
		"market_id", m.ID,
		"question", m.Question,
		"category", m.Category,
		"outcomes", len(m.Outcomes),
		"liquidity", m.Liquidity.String(),
	)

	e.publish(ev)
	return &m, nil
}

// ResolveMarket marks the market resolved with the winning outcome and
// appends the market_resolved event. Terminal: a second resolution fails
// with store.ErrAlreadyResolved and the original outcome stands.
func (e *Engine) ResolveMarket(ctx context.Context, marketID string, outcomeIndex int, actor string) (*model.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if outcomeIndex < 0 || outcomeIndex >= len(m.Outcomes) {
		return nil, fmt.Errorf("%w: %d of %d", store.ErrInvalidOutcome, outcomeIndex, len(m.Outcomes))
	}

	now := time.Now().UTC()
	label := m.Outcomes[outcomeIndex].Label
	ev := model.ActivityEvent{
		ID:          newID("event"),
		Type:        model.EventMarketResolved,
		MarketID:    m.ID,
		MarketTitle: m.Question,
		Description: fmt.Sprintf("Market resolved: %s", label),
		Actor:       actor,
		Timestamp:   now,
		TxHash:      newTxHash(),
		Metadata:    map[string]string{"outcome": label},
	}

	resolved, err := e.store.ResolveMarket(ctx, marketID, outcomeIndex, &ev)
	if err != nil {
		return nil, err
	}

	slog.Info("market resolved",
		"market_id", marketID,
		"outcome_index", outcomeIndex,
		"outcome", label,
	)

	e.publish(ev)
	return resolved, nil
}

// ClaimWinnings settles the account's winning shares at 1.0 USD per share.
// Idempotence is enforced by the store's claimed-flag bookkeeping.
func (e *Engine) ClaimWinnings(ctx context.Context, marketID, account string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payout, err := e.store.ClaimWinnings(ctx, marketID, account)
	if err != nil {
		return decimal.Zero, err
	}

	slog.Info("winnings claimed",
		"market_id", marketID,
		"account", account,
		"payout", payout.String(),
	)
	return payout, nil
}

// MarketHistory returns a synthetic daily price series ending at the
// market's current first-outcome probability, for chart display.
func (e *Engine) MarketHistory(ctx context.Context, marketID string, days int) ([]pricing.HistoryPoint, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	end := outcomeProbability(m, 0).InexactFloat64()
	return pricing.PriceHistory(0.5, end, days, time.Now().UTC()), nil
}

// --- Read pass-throughs ---

func (e *Engine) ListMarkets(ctx context.Context, filters model.ListFilters) ([]model.Market, error) {
	return e.store.ListMarkets(ctx, filters)
}

func (e *Engine) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return e.store.GetMarket(ctx, id)
}

func (e *Engine) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return e.store.ListTradesByMarket(ctx, marketID)
}

func (e *Engine) ListActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error) {
	return e.store.ListActivity(ctx, limit)
}

func (e *Engine) GetPortfolio(ctx context.Context, account string) ([]model.PortfolioPosition, error) {
	return e.store.GetPortfolio(ctx, account)
}

func (e *Engine) publish(ev model.ActivityEvent) {
	if e.notifier != nil {
		e.notifier.Publish(ev)
	}
}

// --- Identifier generation ---

// newID returns a prefixed short identifier, e.g. "market_1a2b3c4d".
func newID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// newTxHash returns an opaque 0x-prefixed 64-hex-char token, unique per
// call. Not a real chain artifact — an identifier with a familiar shape.
func newTxHash() string {
	h := strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
	return "0x" + h[:64]
}
