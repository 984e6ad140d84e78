// Package store is the SQLite persistence layer: trades, the pending
// trade queue, per-day risk state, settlement observations, and the
// historical forecast-error table feeding sigma calibration.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/gopher-lab/weathertrader/pkg/domain"
)

// Store provides SQLite-based persistence.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and runs migrations. Pass
// ":memory:" for tests. Transactions begin IMMEDIATE so read-compute-write
// sequences on risk state take the write lock up front.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	if path == ":memory:" {
		dsn = "file::memory:?_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A memory database vanishes when its last connection closes.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info().Str("path", path).Msg("store initialized")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		city TEXT NOT NULL,
		trade_date DATETIME NOT NULL,
		ticker TEXT NOT NULL,
		bracket TEXT NOT NULL,
		side TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		model_probability REAL NOT NULL,
		market_probability REAL NOT NULL,
		ev_at_entry REAL NOT NULL,
		confidence TEXT NOT NULL,
		status TEXT NOT NULL,
		pnl_cents INTEGER NOT NULL DEFAULT 0,
		fees_cents INTEGER NOT NULL DEFAULT 0,
		settlement_temp_f REAL,
		settlement_source TEXT NOT NULL DEFAULT '',
		narrative TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		settled_at DATETIME
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_order ON trades(order_id);
	CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_trades_city_date ON trades(city, trade_date);

	CREATE TABLE IF NOT EXISTS pending_trades (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		city TEXT NOT NULL,
		ticker TEXT NOT NULL,
		bracket TEXT NOT NULL,
		side TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		model_probability REAL NOT NULL,
		market_probability REAL NOT NULL,
		ev REAL NOT NULL,
		confidence TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		acted_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_pending_user_status ON pending_trades(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_pending_expiry ON pending_trades(status, expires_at);

	CREATE TABLE IF NOT EXISTS daily_risk_state (
		user_id TEXT NOT NULL,
		trading_day TEXT NOT NULL,
		total_exposure_cents INTEGER NOT NULL DEFAULT 0,
		realized_pnl_cents INTEGER NOT NULL DEFAULT 0,
		trades_count INTEGER NOT NULL DEFAULT 0,
		consecutive_losses INTEGER NOT NULL DEFAULT 0,
		cooldown_until DATETIME,
		PRIMARY KEY (user_id, trading_day)
	);

	CREATE TABLE IF NOT EXISTS settlements (
		city TEXT NOT NULL,
		date TEXT NOT NULL,
		high_temp_f REAL NOT NULL,
		source TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (city, date)
	);

	CREATE TABLE IF NOT EXISTS forecast_errors (
		source TEXT NOT NULL,
		city TEXT NOT NULL,
		date TEXT NOT NULL,
		forecast_f REAL NOT NULL,
		actual_f REAL NOT NULL,
		PRIMARY KEY (source, city, date)
	);

	CREATE INDEX IF NOT EXISTS idx_forecast_errors_city ON forecast_errors(source, city);
	`

	_, err := s.db.Exec(schema)
	return err
}

// InsertTrade writes a new trade row.
func (s *Store) InsertTrade(ctx context.Context, t *Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			id, user_id, order_id, city, trade_date, ticker, bracket, side,
			price_cents, quantity, model_probability, market_probability,
			ev_at_entry, confidence, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.OrderID, string(t.City), t.TradeDate, t.Ticker,
		t.Bracket, string(t.Side), t.PriceCents, t.Quantity,
		t.ModelProbability, t.MarketProbability, t.EVAtEntry, t.Confidence,
		string(t.Status), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrade retrieves one trade by id.
func (s *Store) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row := s.db.QueryRowContext(ctx, tradeSelect+` WHERE id = ?`, id)
	return scanTrade(row)
}

// HasTradeForOrder reports whether a trade already references the exchange
// order id. The reconciler uses this to stay idempotent.
func (s *Store) HasTradeForOrder(ctx context.Context, orderID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE order_id = ?`, orderID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count trades by order: %w", err)
	}
	return n > 0, nil
}

// ListOpenTrades returns a user's OPEN trades ordered by creation time.
func (s *Store) ListOpenTrades(ctx context.Context, userID string) ([]*Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		tradeSelect+` WHERE user_id = ? AND status = ? ORDER BY created_at`,
		userID, string(TradeOpen))
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// OpenExposureCents returns the sum of cost over a user's OPEN trades.
func (s *Store) OpenExposureCents(ctx context.Context, userID string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(CASE WHEN side = 'long'
			THEN price_cents * quantity
			ELSE (100 - price_cents) * quantity END)
		FROM trades WHERE user_id = ? AND status = ?`,
		userID, string(TradeOpen)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum open exposure: %w", err)
	}
	return total.Int64, nil
}

// SettleTrade performs the single OPEN→WON|LOST transition, writing the
// settlement fields atomically. Settling a non-OPEN trade is an error.
func (s *Store) SettleTrade(ctx context.Context, id string, status TradeStatus,
	pnlCents, feesCents int64, tempF float64, source, narrative string, settledAt time.Time) error {

	res, err := s.db.ExecContext(ctx, `
		UPDATE trades SET status = ?, pnl_cents = ?, fees_cents = ?,
			settlement_temp_f = ?, settlement_source = ?, narrative = ?,
			settled_at = ?
		WHERE id = ? AND status = ?`,
		string(status), pnlCents, feesCents, tempF, source, narrative,
		settledAt, id, string(TradeOpen))
	if err != nil {
		return fmt.Errorf("settle trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle trade: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("settle trade %s: not found or not OPEN", id)
	}
	return nil
}

const tradeSelect = `
	SELECT id, user_id, order_id, city, trade_date, ticker, bracket, side,
		price_cents, quantity, model_probability, market_probability,
		ev_at_entry, confidence, status, pnl_cents, fees_cents,
		settlement_temp_f, settlement_source, narrative, created_at,
		settled_at
	FROM trades`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*Trade, error) {
	var t Trade
	var city, side, status string
	var tempF sql.NullFloat64
	var settledAt sql.NullTime
	err := row.Scan(&t.ID, &t.UserID, &t.OrderID, &city, &t.TradeDate,
		&t.Ticker, &t.Bracket, &side, &t.PriceCents, &t.Quantity,
		&t.ModelProbability, &t.MarketProbability, &t.EVAtEntry,
		&t.Confidence, &status, &t.PnlCents, &t.FeesCents, &tempF,
		&t.SettlementSource, &t.Narrative, &t.CreatedAt, &settledAt)
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	t.City = domain.City(city)
	t.Side = domain.Side(side)
	t.Status = TradeStatus(status)
	if tempF.Valid {
		v := tempF.Float64
		t.SettlementTempF = &v
	}
	if settledAt.Valid {
		v := settledAt.Time
		t.SettledAt = &v
	}
	return &t, nil
}

func scanTrades(rows *sql.Rows) ([]*Trade, error) {
	var out []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertPendingTrade enqueues a signal for manual approval.
func (s *Store) InsertPendingTrade(ctx context.Context, p *PendingTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_trades (
			id, user_id, city, ticker, bracket, side, price_cents, quantity,
			model_probability, market_probability, ev, confidence, status,
			created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, string(p.City), p.Ticker, p.Bracket, string(p.Side),
		p.PriceCents, p.Quantity, p.ModelProbability, p.MarketProbability,
		p.EV, p.Confidence, string(p.Status), p.CreatedAt, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert pending trade: %w", err)
	}
	return nil
}

// GetPendingTrade retrieves one queued trade by id.
func (s *Store) GetPendingTrade(ctx context.Context, id string) (*PendingTrade, error) {
	row := s.db.QueryRowContext(ctx, pendingSelect+` WHERE id = ?`, id)
	return scanPending(row)
}

// ListPendingTrades returns a user's still-PENDING queue entries, oldest
// first.
func (s *Store) ListPendingTrades(ctx context.Context, userID string) ([]*PendingTrade, error) {
	rows, err := s.db.QueryContext(ctx,
		pendingSelect+` WHERE user_id = ? AND status = ? ORDER BY created_at`,
		userID, string(PendingPending))
	if err != nil {
		return nil, fmt.Errorf("list pending trades: %w", err)
	}
	defer rows.Close()

	var out []*PendingTrade
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TransitionPendingTrade moves a queue entry from one status to another,
// stamping acted_at. Returns false when the row was not in the expected
// source status (already acted on or expired).
func (s *Store) TransitionPendingTrade(ctx context.Context, id string, from, to PendingStatus, actedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_trades SET status = ?, acted_at = ?
		WHERE id = ? AND status = ?`,
		string(to), actedAt, id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition pending trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition pending trade: %w", err)
	}
	return n == 1, nil
}

// ExpireOverduePending coerces PENDING rows past their expiry to EXPIRED
// and returns the swept entries so the caller can unwind their exposure
// reservations. A row approved or rejected between the scan and the
// transition is left alone and not returned.
func (s *Store) ExpireOverduePending(ctx context.Context, now time.Time) ([]*PendingTrade, error) {
	rows, err := s.db.QueryContext(ctx,
		pendingSelect+` WHERE status = ? AND expires_at < ?`,
		string(PendingPending), now)
	if err != nil {
		return nil, fmt.Errorf("expire pending trades: %w", err)
	}
	defer rows.Close()

	var overdue []*PendingTrade
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		overdue = append(overdue, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire pending trades: %w", err)
	}

	var expired []*PendingTrade
	for _, p := range overdue {
		ok, err := s.TransitionPendingTrade(ctx, p.ID, PendingPending, PendingExpired, now)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		p.Status = PendingExpired
		actedAt := now
		p.ActedAt = &actedAt
		expired = append(expired, p)
	}
	return expired, nil
}

const pendingSelect = `
	SELECT id, user_id, city, ticker, bracket, side, price_cents, quantity,
		model_probability, market_probability, ev, confidence, status,
		created_at, expires_at, acted_at
	FROM pending_trades`

func scanPending(row rowScanner) (*PendingTrade, error) {
	var p PendingTrade
	var city, side, status string
	var actedAt sql.NullTime
	err := row.Scan(&p.ID, &p.UserID, &city, &p.Ticker, &p.Bracket, &side,
		&p.PriceCents, &p.Quantity, &p.ModelProbability,
		&p.MarketProbability, &p.EV, &p.Confidence, &status, &p.CreatedAt,
		&p.ExpiresAt, &actedAt)
	if err != nil {
		return nil, fmt.Errorf("scan pending trade: %w", err)
	}
	p.City = domain.City(city)
	p.Side = domain.Side(side)
	p.Status = PendingStatus(status)
	if actedAt.Valid {
		v := actedAt.Time
		p.ActedAt = &v
	}
	return &p, nil
}

// GetOrCreateDailyRisk returns the risk row for (user, trading day),
// creating a zeroed row if none exists.
func (s *Store) GetOrCreateDailyRisk(ctx context.Context, userID, tradingDay string) (*DailyRiskState, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO daily_risk_state (user_id, trading_day)
		VALUES (?, ?)`, userID, tradingDay)
	if err != nil {
		return nil, fmt.Errorf("create daily risk state: %w", err)
	}
	return s.getDailyRisk(ctx, s.db, userID, tradingDay)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getDailyRisk(ctx context.Context, q queryRower, userID, tradingDay string) (*DailyRiskState, error) {
	var st DailyRiskState
	var cooldown sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT user_id, trading_day, total_exposure_cents,
			realized_pnl_cents, trades_count, consecutive_losses,
			cooldown_until
		FROM daily_risk_state WHERE user_id = ? AND trading_day = ?`,
		userID, tradingDay).Scan(&st.UserID, &st.TradingDay,
		&st.TotalExposureCents, &st.RealizedPnlCents, &st.TradesCount,
		&st.ConsecutiveLosses, &cooldown)
	if err != nil {
		return nil, fmt.Errorf("get daily risk state: %w", err)
	}
	if cooldown.Valid {
		v := cooldown.Time
		st.CooldownUntil = &v
	}
	return &st, nil
}

// UpdateDailyRisk runs fn over the current risk row inside an IMMEDIATE
// transaction and persists the mutated row. The write lock is held for the
// whole read-compute-write, so concurrent updaters serialize.
func (s *Store) UpdateDailyRisk(ctx context.Context, userID, tradingDay string, fn func(*DailyRiskState) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin risk update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO daily_risk_state (user_id, trading_day)
		VALUES (?, ?)`, userID, tradingDay); err != nil {
		return fmt.Errorf("create daily risk state: %w", err)
	}

	st, err := s.getDailyRisk(ctx, tx, userID, tradingDay)
	if err != nil {
		return err
	}

	if err := fn(st); err != nil {
		return err
	}

	var cooldown any
	if st.CooldownUntil != nil {
		cooldown = *st.CooldownUntil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE daily_risk_state SET total_exposure_cents = ?,
			realized_pnl_cents = ?, trades_count = ?,
			consecutive_losses = ?, cooldown_until = ?
		WHERE user_id = ? AND trading_day = ?`,
		st.TotalExposureCents, st.RealizedPnlCents, st.TradesCount,
		st.ConsecutiveLosses, cooldown, userID, tradingDay); err != nil {
		return fmt.Errorf("update daily risk state: %w", err)
	}

	return tx.Commit()
}

// UpsertSettlement records an observed outcome for one (city, date).
// Re-inserting the same key is a no-op (settlements are immutable).
func (s *Store) UpsertSettlement(ctx context.Context, rec *SettlementRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO settlements (city, date, high_temp_f, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(rec.City), rec.Date, rec.HighTempF, rec.Source, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert settlement: %w", err)
	}
	return nil
}

// GetSettlement returns the observed outcome for (city, date), or nil when
// none has been recorded.
func (s *Store) GetSettlement(ctx context.Context, city domain.City, date string) (*SettlementRecord, error) {
	var rec SettlementRecord
	var c string
	err := s.db.QueryRowContext(ctx, `
		SELECT city, date, high_temp_f, source, created_at
		FROM settlements WHERE city = ? AND date = ?`,
		string(city), date).Scan(&c, &rec.Date, &rec.HighTempF, &rec.Source, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	rec.City = domain.City(c)
	return &rec, nil
}

// InsertForecastError appends one (forecast, actual) calibration pair.
func (s *Store) InsertForecastError(ctx context.Context, fe *ForecastError) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO forecast_errors (source, city, date, forecast_f, actual_f)
		VALUES (?, ?, ?, ?, ?)`,
		fe.Source, string(fe.City), fe.Date, fe.ForecastF, fe.ActualF)
	if err != nil {
		return fmt.Errorf("insert forecast error: %w", err)
	}
	return nil
}

// ErrorSamples returns actual−forecast residuals for (source, city) dated
// in the given months. Months are 1-12; the date column is YYYY-MM-DD.
func (s *Store) ErrorSamples(ctx context.Context, source string, city domain.City, months []time.Month) ([]float64, error) {
	if len(months) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(months))
	args := []any{source, string(city)}
	for i, m := range months {
		placeholders[i] = "?"
		args = append(args, fmt.Sprintf("%02d", int(m)))
	}

	query := fmt.Sprintf(`
		SELECT actual_f - forecast_f FROM forecast_errors
		WHERE source = ? AND city = ?
		AND substr(date, 6, 2) IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error samples: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan error sample: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
