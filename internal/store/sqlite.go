package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"algotrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// schema is applied on open. Times are stored as Unix milliseconds; undefined
// metrics are stored as NULL.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	strategy          TEXT NOT NULL,
	params            TEXT NOT NULL,
	symbols           TEXT NOT NULL,
	start_ms          INTEGER NOT NULL,
	end_ms            INTEGER NOT NULL,
	initial_cash      REAL NOT NULL,
	final_equity      REAL,
	outcome           TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	total_return      REAL,
	annualized_return REAL,
	sharpe_ratio      REAL,
	max_drawdown      REAL,
	win_rate          REAL,
	profit_factor     REAL,
	timesteps         INTEGER NOT NULL,
	total_trades      INTEGER NOT NULL,
	closed_trades     INTEGER NOT NULL,
	rejected          INTEGER NOT NULL,
	created_ms        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_trades (
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq            INTEGER NOT NULL,
	symbol         TEXT NOT NULL,
	ts_ms          INTEGER NOT NULL,
	side           TEXT NOT NULL,
	qty            REAL NOT NULL,
	price          REAL NOT NULL,
	commission     REAL NOT NULL,
	realized_pnl   REAL NOT NULL,
	closing        INTEGER NOT NULL,
	position_after REAL NOT NULL,
	cash_after     REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_equity (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	ts_ms        INTEGER NOT NULL,
	cash         REAL NOT NULL,
	market_value REAL NOT NULL,
	total_equity REAL NOT NULL,
	PRIMARY KEY (run_id, ts_ms)
);

CREATE INDEX IF NOT EXISTS idx_runs_strategy ON runs(strategy, created_ms);
`

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun stores summary, equity, and trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, summary domain.RunSummary, equity []domain.EquitySnapshot, trades []domain.TradeRecord) (string, error) {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = s.now()
	}

	params, err := json.Marshal(summary.Params)
	if err != nil {
		return "", fmt.Errorf("encoding params: %w", err)
	}
	symbols, err := json.Marshal(summary.Symbols)
	if err != nil {
		return "", fmt.Errorf("encoding symbols: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, strategy, params, symbols, start_ms, end_ms, initial_cash, final_equity,
		 outcome, error, total_return, annualized_return, sharpe_ratio, max_drawdown,
		 win_rate, profit_factor, timesteps, total_trades, closed_trades, rejected, created_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID, summary.Strategy, string(params), string(symbols),
		summary.Start.UnixMilli(), summary.End.UnixMilli(), summary.InitialCash, nullable(summary.FinalEquity),
		summary.Outcome, summary.Error,
		nullable(summary.TotalReturn), nullable(summary.AnnualizedReturn), nullable(summary.SharpeRatio),
		nullable(summary.MaxDrawdown), nullable(summary.WinRate), nullable(summary.ProfitFactor),
		summary.Timesteps, summary.TotalTrades, summary.ClosedTrades, summary.Rejected,
		summary.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting run %s: %w", summary.ID, err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_trades
		(run_id, seq, symbol, ts_ms, side, qty, price, commission, realized_pnl, closing, position_after, cash_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer tradeStmt.Close()
	for _, t := range trades {
		if _, err := tradeStmt.ExecContext(ctx,
			summary.ID, t.Seq, t.Symbol, t.Timestamp.UnixMilli(), string(t.Side),
			t.Qty, t.Price, t.Commission, t.RealizedPnL, t.Closing, t.PositionAfter, t.CashAfter,
		); err != nil {
			return "", fmt.Errorf("inserting trade %d of run %s: %w", t.Seq, summary.ID, err)
		}
	}

	eqStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_equity (run_id, ts_ms, cash, market_value, total_equity)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer eqStmt.Close()
	for _, e := range equity {
		if _, err := eqStmt.ExecContext(ctx,
			summary.ID, e.Timestamp.UnixMilli(), e.Cash, e.MarketValue, e.TotalEquity,
		); err != nil {
			return "", fmt.Errorf("inserting equity of run %s: %w", summary.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return summary.ID, nil
}

const runColumns = `id, strategy, params, symbols, start_ms, end_ms, initial_cash, final_equity,
	outcome, error, total_return, annualized_return, sharpe_ratio, max_drawdown,
	win_rate, profit_factor, timesteps, total_trades, closed_trades, rejected, created_ms`

// GetRun returns the run with the given ID or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]domain.RunSummary, error) {
	var (
		where []string
		args  []any
	)
	if filter.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, filter.Strategy)
	}
	q := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_ms DESC, id`
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTrades returns the trade log of a run in sequence order.
func (s *SQLiteStore) ListTrades(ctx context.Context, id string) ([]domain.TradeRecord, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, symbol, ts_ms, side, qty, price, commission, realized_pnl, closing, position_after, cash_after
		FROM run_trades
		WHERE run_id = ?
		ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var (
			t    domain.TradeRecord
			ts   int64
			side string
		)
		if err := rows.Scan(
			&t.Seq,
			&t.Symbol,
			&ts,
			&side,
			&t.Qty,
			&t.Price,
			&t.Commission,
			&t.RealizedPnL,
			&t.Closing,
			&t.PositionAfter,
			&t.CashAfter,
		); err != nil {
			return nil, err
		}
		t.Timestamp = time.UnixMilli(ts).UTC()
		t.Side = domain.OrderSide(side)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEquity returns the equity history of a run in time order.
func (s *SQLiteStore) ListEquity(ctx context.Context, id string) ([]domain.EquitySnapshot, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts_ms, cash, market_value, total_equity
		FROM run_equity
		WHERE run_id = ?
		ORDER BY ts_ms ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EquitySnapshot
	for rows.Next() {
		var (
			e  domain.EquitySnapshot
			ts int64
		)
		if err := rows.Scan(&ts, &e.Cash, &e.MarketValue, &e.TotalEquity); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) exists(ctx context.Context, id string) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunSummary, error) {
	var (
		r                         domain.RunSummary
		params, symbols           string
		startMS, endMS, createdMS int64
		finalEquity, totalReturn  sql.NullFloat64
		annualized, sharpe        sql.NullFloat64
		maxDD, winRate, pf        sql.NullFloat64
	)
	if err := row.Scan(
		&r.ID, &r.Strategy, &params, &symbols, &startMS, &endMS, &r.InitialCash, &finalEquity,
		&r.Outcome, &r.Error, &totalReturn, &annualized, &sharpe, &maxDD,
		&winRate, &pf, &r.Timesteps, &r.TotalTrades, &r.ClosedTrades, &r.Rejected, &createdMS,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return nil, fmt.Errorf("decoding params of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(symbols), &r.Symbols); err != nil {
		return nil, fmt.Errorf("decoding symbols of run %s: %w", r.ID, err)
	}
	r.Start = time.UnixMilli(startMS).UTC()
	r.End = time.UnixMilli(endMS).UTC()
	r.CreatedAt = time.UnixMilli(createdMS).UTC()
	r.FinalEquity = orNaN(finalEquity)
	r.TotalReturn = orNaN(totalReturn)
	r.AnnualizedReturn = orNaN(annualized)
	r.SharpeRatio = orNaN(sharpe)
	r.MaxDrawdown = orNaN(maxDD)
	r.WinRate = orNaN(winRate)
	r.ProfitFactor = orNaN(pf)
	return &r, nil
}

// nullable maps NaN and infinities to NULL.
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
