package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/zenguess/market-engine/internal/lifecycle"
	"github.com/zenguess/market-engine/internal/limits"
	"github.com/zenguess/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// outcome lists and event metadata are JSONB. Multi-write operations run in
// a single transaction so all-or-nothing semantics hold across process
// restarts too.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS markets (
			id                TEXT PRIMARY KEY,
			question          TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			category          TEXT NOT NULL,
			status            TEXT NOT NULL,
			outcomes          JSONB NOT NULL,
			end_time          TIMESTAMPTZ NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			volume            NUMERIC NOT NULL DEFAULT 0,
			liquidity         NUMERIC NOT NULL DEFAULT 0,
			resolved_outcome  INT,
			resolution_source TEXT NOT NULL DEFAULT '',
			tags              TEXT[] NOT NULL DEFAULT '{}',
			creator           TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS trades (
			id            TEXT PRIMARY KEY,
			market_id     TEXT NOT NULL REFERENCES markets(id),
			trader        TEXT NOT NULL,
			outcome_index INT NOT NULL,
			outcome_label TEXT NOT NULL,
			side          TEXT NOT NULL,
			shares        NUMERIC NOT NULL,
			price         NUMERIC NOT NULL,
			total         NUMERIC NOT NULL,
			timestamp     TIMESTAMPTZ NOT NULL,
			tx_hash       TEXT NOT NULL,
			seq           BIGSERIAL
		);
		CREATE TABLE IF NOT EXISTS activity_events (
			id           TEXT PRIMARY KEY,
			type         TEXT NOT NULL,
			market_id    TEXT NOT NULL,
			market_title TEXT NOT NULL,
			description  TEXT NOT NULL,
			actor        TEXT NOT NULL,
			timestamp    TIMESTAMPTZ NOT NULL,
			tx_hash      TEXT NOT NULL,
			metadata     JSONB,
			seq          BIGSERIAL
		);
		CREATE TABLE IF NOT EXISTS claims (
			market_id  TEXT NOT NULL REFERENCES markets(id),
			account    TEXT NOT NULL,
			payout     NUMERIC NOT NULL,
			claimed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (market_id, account)
		);
		CREATE INDEX IF NOT EXISTS trades_market_idx ON trades (market_id, timestamp DESC, seq DESC);
		CREATE INDEX IF NOT EXISTS trades_trader_idx ON trades (lower(trader));
		CREATE INDEX IF NOT EXISTS activity_time_idx ON activity_events (timestamp DESC, seq DESC);
	`)
	return err
}

const marketColumns = `id, question, description, category, status, outcomes,
	end_time, created_at, volume::TEXT, liquidity::TEXT,
	resolved_outcome, resolution_source, tags, creator`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var outcomesJSON []byte
	var volume, liquidity string

	err := row.Scan(&m.ID, &m.Question, &m.Description, &m.Category, &m.Status,
		&outcomesJSON, &m.EndTime, &m.CreatedAt, &volume, &liquidity,
		&m.ResolvedOutcome, &m.ResolutionSource, &m.Tags, &m.Creator)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(outcomesJSON, &m.Outcomes); err != nil {
		return nil, fmt.Errorf("decode outcomes for market %s: %w", m.ID, err)
	}
	m.Volume, _ = decimal.NewFromString(volume)
	m.Liquidity, _ = decimal.NewFromString(liquidity)
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, filters model.ListFilters) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	query := strings.ToLower(strings.TrimSpace(filters.Query))

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
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
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if markets == nil {
		markets = []model.Market{}
	}
	sortMarkets(markets, filters.Sort)
	return markets, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return lifecycle.WithDerived(m, time.Now().UTC()), nil
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, ev *model.ActivityEvent) error {
	outcomesJSON, err := json.Marshal(m.Outcomes)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO markets (id, question, description, category, status, outcomes,
			    end_time, created_at, volume, liquidity, resolved_outcome,
			    resolution_source, tags, creator)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11, $12, $13, $14)`,
			m.ID, m.Question, m.Description, m.Category, m.Status, outcomesJSON,
			m.EndTime, m.CreatedAt, m.Volume.String(), m.Liquidity.String(),
			m.ResolvedOutcome, m.ResolutionSource, m.Tags, m.Creator)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) RecordTrade(ctx context.Context, t *model.Trade, outcomes []model.Outcome, ev *model.ActivityEvent) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var tag pgconn.CommandTag
		var err error

		if outcomes != nil {
			outcomesJSON, merr := json.Marshal(outcomes)
			if merr != nil {
				return merr
			}
			tag, err = tx.Exec(ctx,
				`UPDATE markets SET volume = volume + $2::NUMERIC, outcomes = $3 WHERE id = $1`,
				t.MarketID, t.Total.String(), outcomesJSON)
		} else {
			tag, err = tx.Exec(ctx,
				`UPDATE markets SET volume = volume + $2::NUMERIC WHERE id = $1`,
				t.MarketID, t.Total.String())
		}
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrMarketNotFound, t.MarketID)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO trades (id, market_id, trader, outcome_index, outcome_label,
			    side, shares, price, total, timestamp, tx_hash)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
			t.ID, t.MarketID, t.Trader, t.OutcomeIndex, t.OutcomeLabel,
			t.Side, t.Shares.String(), t.Price.String(), t.Total.String(),
			t.Timestamp, t.TxHash)
		if err != nil {
			return err
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) ResolveMarket(ctx context.Context, id string, outcomeIndex int, ev *model.ActivityEvent) (*model.Market, error) {
	var resolved *model.Market

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		m, err := scanMarket(tx.QueryRow(ctx,
			`SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrMarketNotFound, id)
		}
		if err != nil {
			return err
		}
		if m.Status == model.StatusResolved {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
		}
		if outcomeIndex < 0 || outcomeIndex >= len(m.Outcomes) {
			return fmt.Errorf("%w: %d of %d", ErrInvalidOutcome, outcomeIndex, len(m.Outcomes))
		}

		_, err = tx.Exec(ctx,
			`UPDATE markets SET status = $2, resolved_outcome = $3 WHERE id = $1`,
			id, model.StatusResolved, outcomeIndex)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, ev); err != nil {
			return err
		}

		m.Status = model.StatusResolved
		m.ResolvedOutcome = &outcomeIndex
		resolved = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, trader, outcome_index, outcome_label, side,
		        shares::TEXT, price::TEXT, total::TEXT, timestamp, tx_hash
		 FROM trades WHERE market_id = $1
		 ORDER BY timestamp DESC, seq DESC`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var shares, price, total string
		if err := rows.Scan(&t.ID, &t.MarketID, &t.Trader, &t.OutcomeIndex,
			&t.OutcomeLabel, &t.Side, &shares, &price, &total,
			&t.Timestamp, &t.TxHash); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.Total, _ = decimal.NewFromString(total)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) ListActivity(ctx context.Context, limit int) ([]model.ActivityEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, market_id, market_title, description, actor,
		        timestamp, tx_hash, metadata
		 FROM activity_events
		 ORDER BY timestamp DESC, seq DESC
		 LIMIT $1`, ClampActivityLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.ActivityEvent{}
	for rows.Next() {
		var ev model.ActivityEvent
		var metadata []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.MarketID, &ev.MarketTitle,
			&ev.Description, &ev.Actor, &ev.Timestamp, &ev.TxHash, &metadata); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &ev.Metadata)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) GetPortfolio(ctx context.Context, account string) ([]model.PortfolioPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT
			t.market_id,
			m.question,
			t.outcome_index,
			t.outcome_label,
			m.outcomes,
			m.status,
			COALESCE(SUM(CASE WHEN t.side = 'buy'  THEN t.shares ELSE 0 END), 0)::TEXT AS buy_shares,
			COALESCE(SUM(CASE WHEN t.side = 'buy'  THEN t.shares * t.price ELSE 0 END), 0)::TEXT AS buy_notional,
			COALESCE(SUM(CASE WHEN t.side = 'sell' THEN t.shares ELSE 0 END), 0)::TEXT AS sell_shares
		 FROM trades t
		 JOIN markets m ON m.id = t.market_id
		 WHERE lower(t.trader) = lower($1)
		 GROUP BY t.market_id, m.question, t.outcome_index, t.outcome_label, m.outcomes, m.status
		 ORDER BY t.market_id, t.outcome_index`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []model.PortfolioPosition{}
	for rows.Next() {
		var pos model.PortfolioPosition
		var outcomesJSON []byte
		var status model.Status
		var buySharesS, buyNotionalS, sellSharesS string

		if err := rows.Scan(&pos.MarketID, &pos.MarketTitle, &pos.OutcomeIndex,
			&pos.Outcome, &outcomesJSON, &status,
			&buySharesS, &buyNotionalS, &sellSharesS); err != nil {
			return nil, err
		}

		buyShares, _ := decimal.NewFromString(buySharesS)
		buyNotional, _ := decimal.NewFromString(buyNotionalS)
		sellShares, _ := decimal.NewFromString(sellSharesS)

		shares := buyShares.Sub(sellShares)
		if !shares.IsPositive() {
			continue
		}

		pos.Shares = shares
		if buyShares.IsPositive() {
			pos.AvgPrice = buyNotional.Div(buyShares)
		}

		pos.CurrentPrice = decimal.NewFromFloat(0.5)
		var outcomes []model.Outcome
		if json.Unmarshal(outcomesJSON, &outcomes) == nil &&
			pos.OutcomeIndex >= 0 && pos.OutcomeIndex < len(outcomes) {
			pos.CurrentPrice = outcomes[pos.OutcomeIndex].Probability
		}

		pos.Status = model.StatusOpen
		if status == model.StatusResolved {
			pos.Status = model.StatusResolved
		}
		pos.PnL = shares.Mul(pos.CurrentPrice.Sub(pos.AvgPrice))
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) TraderExposures(ctx context.Context, account string) ([]limits.Exposure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.market_id, m.category,
		        COALESCE(SUM(CASE WHEN t.side = 'buy' THEN t.total ELSE -t.total END), 0)::TEXT
		 FROM trades t
		 JOIN markets m ON m.id = t.market_id
		 WHERE lower(t.trader) = lower($1)
		 GROUP BY t.market_id, m.category`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposures := []limits.Exposure{}
	for rows.Next() {
		var e limits.Exposure
		var notional string
		if err := rows.Scan(&e.MarketID, &e.Category, &notional); err != nil {
			return nil, err
		}
		e.Notional, _ = decimal.NewFromString(notional)
		exposures = append(exposures, e)
	}
	return exposures, rows.Err()
}

func (s *PostgresStore) ClaimWinnings(ctx context.Context, marketID, account string) (decimal.Decimal, error) {
	payout := decimal.Zero

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var status model.Status
		var resolvedOutcome *int
		err := tx.QueryRow(ctx,
			`SELECT status, resolved_outcome FROM markets WHERE id = $1 FOR UPDATE`,
			marketID).Scan(&status, &resolvedOutcome)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
		}
		if err != nil {
			return err
		}
		if status != model.StatusResolved || resolvedOutcome == nil {
			return fmt.Errorf("%w: %s", ErrMarketNotResolved, marketID)
		}

		var claimed bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM claims WHERE market_id = $1 AND account = lower($2))`,
			marketID, account).Scan(&claimed)
		if err != nil {
			return err
		}
		if claimed {
			return fmt.Errorf("%w: %s/%s", ErrAlreadyClaimed, marketID, account)
		}

		var sharesS string
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(CASE WHEN side = 'buy' THEN shares ELSE -shares END), 0)::TEXT
			 FROM trades
			 WHERE market_id = $1 AND outcome_index = $2 AND lower(trader) = lower($3)`,
			marketID, *resolvedOutcome, account).Scan(&sharesS)
		if err != nil {
			return err
		}

		shares, _ := decimal.NewFromString(sharesS)
		if !shares.IsPositive() {
			return nil
		}

		payout = shares
		_, err = tx.Exec(ctx,
			`INSERT INTO claims (market_id, account, payout, claimed_at)
			 VALUES ($1, lower($2), $3::NUMERIC, $4)`,
			marketID, account, payout.String(), time.Now().UTC())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return payout, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev *model.ActivityEvent) error {
	if ev == nil {
		return nil
	}
	var metadata []byte
	if ev.Metadata != nil {
		var err error
		metadata, err = json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO activity_events (id, type, market_id, market_title,
		    description, actor, timestamp, tx_hash, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.Type, ev.MarketID, ev.MarketTitle, ev.Description,
		ev.Actor, ev.Timestamp, ev.TxHash, metadata)
	return err
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
