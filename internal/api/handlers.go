// Package api provides the HTTP surface over the engine facade. All business
// semantics live in internal/engine; this layer does request validation,
// response shaping, and error-to-status mapping only.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/engine"
	"github.com/zenguess/market-engine/internal/limits"
	"github.com/zenguess/market-engine/internal/metrics"
	"github.com/zenguess/market-engine/internal/model"
	"github.com/zenguess/market-engine/internal/store"
)

// Trade amounts accepted over HTTP. The engine clamps defensively; the API
// layer is where hard bounds are enforced.
var (
	minTradeAmount = decimal.NewFromInt(1)
	maxTradeAmount = decimal.NewFromInt(1_000_000)
)

// Handler exposes the engine over chi routes.
type Handler struct {
	engine *engine.Engine
	hub    *Hub // optional, for the /ws endpoint
}

// NewHandler creates an HTTP handler around the engine. hub may be nil.
func NewHandler(e *engine.Engine, hub *Hub) *Handler {
	return &Handler{engine: e, hub: hub}
}

// Register mounts all API routes on r.
func (h *Handler) Register(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Get("/markets", h.ListMarkets)
	r.Post("/markets", h.CreateMarket)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Get("/markets/{marketID}/history", h.MarketHistory)
	r.Post("/markets/{marketID}/resolve", h.ResolveMarket)
	r.Post("/markets/{marketID}/claim", h.ClaimWinnings)

	r.Post("/simulate", h.SimulateTrade)
	r.Post("/trade", h.SubmitTrade)

	r.Get("/portfolio", h.GetPortfolio)
	r.Get("/activity", h.ListActivity)
}

// ListMarkets handles GET /api/v1/markets?category=&status=&q=&sort=
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := model.ListFilters{
		Query: q.Get("q"),
		Sort:  model.Sort(q.Get("sort")),
	}
	if c := q.Get("category"); c != "" && c != "all" {
		filters.Category = model.Category(c)
	}
	if s := q.Get("status"); s != "" && s != "all" {
		filters.Status = model.Status(s)
	}

	markets, err := h.engine.ListMarkets(r.Context(), filters)
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"markets": markets,
		"total":   len(markets),
	})
}

// createMarketRequest is the JSON body for POST /api/v1/markets.
type createMarketRequest struct {
	Question         string          `json:"question"`
	Description      string          `json:"description"`
	Category         model.Category  `json:"category"`
	EndTime          time.Time       `json:"endTime"`
	Outcomes         []string        `json:"outcomes"`
	InitialLiquidity decimal.Decimal `json:"initialLiquidity"`
	ResolutionSource string          `json:"resolutionSource"`
	Tags             []string        `json:"tags"`
	Creator          string          `json:"creator"`
}

// CreateMarket handles POST /api/v1/markets.
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		writeError(w, "question is required", http.StatusBadRequest)
		return
	}
	if !req.Category.Valid() {
		writeError(w, "unknown category", http.StatusBadRequest)
		return
	}
	if req.EndTime.IsZero() {
		writeError(w, "endTime is required", http.StatusBadRequest)
		return
	}
	if len(req.Outcomes) < 2 {
		writeError(w, "at least two outcomes are required", http.StatusBadRequest)
		return
	}

	market, err := h.engine.CreateMarket(r.Context(), model.CreateMarketInput{
		Question:         req.Question,
		Description:      req.Description,
		Category:         req.Category,
		EndTime:          req.EndTime,
		Outcomes:         req.Outcomes,
		InitialLiquidity: req.InitialLiquidity,
		ResolutionSource: req.ResolutionSource,
		Tags:             req.Tags,
		Creator:          req.Creator,
	})
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	metrics.MarketsCreated.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"market": market})
}

// GetMarket handles GET /api/v1/markets/{marketID}. The response includes
// the market's trade history as related data.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := h.engine.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	trades, err := h.engine.ListTradesByMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": market,
		"related": map[string]any{
			"trades": trades,
		},
	})
}

// MarketHistory handles GET /api/v1/markets/{marketID}/history?days=30
func (h *Handler) MarketHistory(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}

	points, err := h.engine.MarketHistory(r.Context(), marketID, days)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": points})
}

// tradeRequest is the JSON body shared by /simulate and /trade.
type tradeRequest struct {
	MarketID     string          `json:"marketId"`
	OutcomeIndex int             `json:"outcomeIndex"`
	Amount       decimal.Decimal `json:"amount"`
	Side         model.Side      `json:"side"`
	Slippage     decimal.Decimal `json:"slippage"`
	Trader       string          `json:"trader"`
}

// SimulateTrade handles POST /api/v1/simulate. Read-only.
func (h *Handler) SimulateTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}

	quote, err := h.engine.SimulateTrade(r.Context(), req.MarketID, req.OutcomeIndex, req.Amount, req.Side)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// SubmitTrade handles POST /api/v1/trade.
func (h *Handler) SubmitTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if req.Trader == "" {
		writeError(w, "trader is required", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThan(minTradeAmount) || req.Amount.GreaterThan(maxTradeAmount) {
		writeError(w, "amount must be between 1 and 1000000", http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := h.engine.SubmitTrade(r.Context(), engine.SubmitTradeInput{
		MarketID:     req.MarketID,
		OutcomeIndex: req.OutcomeIndex,
		Amount:       req.Amount,
		Side:         req.Side,
		Slippage:     req.Slippage,
		Trader:       req.Trader,
	})
	if err != nil {
		if errors.Is(err, limits.ErrPerMarketLimitExceeded) || errors.Is(err, limits.ErrCategoryLimitExceeded) {
			metrics.LimitRejections.Inc()
		}
		writeError(w, err.Error(), statusForError(err))
		return
	}

	side := string(req.Side)
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
	metrics.MarketVolume.WithLabelValues(req.MarketID, side).Add(result.Trade.Total.InexactFloat64())

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"txHash":  result.TxHash,
		"trade":   result.Trade,
	})
}

// resolveRequest is the JSON body for POST /api/v1/markets/{id}/resolve.
type resolveRequest struct {
	OutcomeIndex int    `json:"outcomeIndex"`
	Actor        string `json:"actor"`
}

// ResolveMarket handles POST /api/v1/markets/{marketID}/resolve.
func (h *Handler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := h.engine.ResolveMarket(r.Context(), marketID, req.OutcomeIndex, req.Actor)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	metrics.MarketsResolved.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"market": market})
}

// claimRequest is the JSON body for POST /api/v1/markets/{id}/claim.
type claimRequest struct {
	Account string `json:"account"`
}

// ClaimWinnings handles POST /api/v1/markets/{marketID}/claim.
func (h *Handler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	amount, err := h.engine.ClaimWinnings(r.Context(), marketID, req.Account)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"amount":  amount,
	})
}

// GetPortfolio handles GET /api/v1/portfolio?address=
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if len(address) < 3 {
		writeError(w, "missing or invalid address query parameter", http.StatusBadRequest)
		return
	}

	positions, err := h.engine.GetPortfolio(r.Context(), address)
	if err != nil {
		writeError(w, "failed to load positions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": positions,
		"meta": map[string]any{
			"total":     len(positions),
			"fetchedAt": time.Now().UTC(),
		},
	})
}

// ListActivity handles GET /api/v1/activity?limit=
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > store.MaxActivityLimit {
			writeError(w, "invalid limit query parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.engine.ListActivity(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to load activity", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": events,
		"meta": map[string]any{
			"total":     len(events),
			"fetchedAt": time.Now().UTC(),
		},
	})
}

// statusForError maps engine/store errors onto HTTP statuses: lookup misses
// to 404, precondition conflicts to 409, everything else to 400.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrMarketNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, store.ErrAlreadyClaimed),
		errors.Is(err, store.ErrMarketNotResolved),
		errors.Is(err, engine.ErrMarketNotOpen),
		errors.Is(err, engine.ErrSlippageExceeded),
		errors.Is(err, limits.ErrPerMarketLimitExceeded),
		errors.Is(err, limits.ErrCategoryLimitExceeded):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
