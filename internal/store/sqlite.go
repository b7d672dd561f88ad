package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/models"
	"hs-backtest/internal/performance"
)

// priceBatchSize bounds the rows written per price transaction.
const priceBatchSize = 1000

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Daily closing prices per symbol
	CREATE TABLE IF NOT EXISTS prices (
		symbol TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		price REAL NOT NULL,
		PRIMARY KEY (symbol, timestamp)
	);

	-- One row per backtest run
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		duration INTEGER NOT NULL,
		bars INTEGER NOT NULL,
		bandwidth REAL NOT NULL,
		patterns INTEGER NOT NULL,
		failures INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_symbol ON runs(symbol, started_at);

	-- Simulated patterns of a run
	CREATE TABLE IF NOT EXISTS run_trades (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		window_index INTEGER NOT NULL,
		indices TEXT NOT NULL,
		prices TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		gross_return REAL NOT NULL DEFAULT 0,
		net_return REAL NOT NULL DEFAULT 0,
		neckline REAL NOT NULL DEFAULT 0,
		entry_index INTEGER NOT NULL DEFAULT 0,
		exit_index INTEGER NOT NULL DEFAULT 0,
		exit_price REAL NOT NULL DEFAULT 0,
		exit_reason TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, window_index)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Prices Methods
// ============================================================================

// SavePrices upserts bars for symbol.
func (s *SQLiteStore) SavePrices(ctx context.Context, symbol string, bars []models.Bar) error {
	batch := performance.NewBatchProcessor(priceBatchSize, func(items []models.Bar) error {
		return s.insertPrices(ctx, symbol, items)
	})
	for _, b := range bars {
		if err := batch.Add(b); err != nil {
			return err
		}
	}
	return batch.Flush()
}

func (s *SQLiteStore) insertPrices(ctx context.Context, symbol string, bars []models.Bar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", apperrors.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO prices (symbol, timestamp, price)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %v", apperrors.ErrDatabaseError, err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Timestamp.UTC(), b.Price); err != nil {
			return fmt.Errorf("%w: failed to insert price: %v", apperrors.ErrDatabaseError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// GetPrices returns bars for symbol in [from, to], oldest first. A zero
// bound is open.
func (s *SQLiteStore) GetPrices(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	query := "SELECT timestamp, price FROM prices WHERE symbol = ?"
	args := []interface{}{symbol}

	if !from.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, to.UTC())
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query prices: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Price); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}

	return bars, nil
}

// GetPricesFreshness returns the timestamp of the most recent bar.
func (s *SQLiteStore) GetPricesFreshness(ctx context.Context, symbol string) (time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM prices WHERE symbol = ?
	`, symbol).Scan(&latest)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get prices freshness: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, nil
	}

	// MAX() loses the column type, so the driver hands back text.
	for _, layout := range []string{"2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05-07:00", time.RFC3339Nano} {
		if t, err := time.Parse(layout, latest.String); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", latest.String)
}

// ListSymbols returns every symbol with stored prices.
func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM prices ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// ============================================================================
// Runs Methods
// ============================================================================

// SaveRun stores a run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", apperrors.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, symbol, started_at, duration, bars, bandwidth, patterns, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Symbol, run.StartedAt.UTC(), run.Duration.Nanoseconds(), run.Bars, run.Bandwidth, run.Patterns, run.Failures)
	if err != nil {
		return fmt.Errorf("%w: failed to save run: %v", apperrors.ErrDatabaseError, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_trades WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("%w: failed to clear run trades: %v", apperrors.ErrDatabaseError, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_trades (run_id, kind, window_index, indices, prices, outcome, gross_return, net_return, neckline, entry_index, exit_index, exit_price, exit_reason, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %v", apperrors.ErrDatabaseError, err)
	}
	defer stmt.Close()

	for _, t := range run.Trades {
		indices, _ := json.Marshal(t.Indices)
		prices, _ := json.Marshal(t.Prices)
		_, err := stmt.ExecContext(ctx, run.ID, t.Kind, t.Window, string(indices), string(prices),
			t.Outcome, t.Return, t.NetReturn, t.Neckline, t.EntryIndex, t.ExitIndex, t.ExitPrice, t.ExitReason, t.Error)
		if err != nil {
			return fmt.Errorf("%w: failed to insert run trade: %v", apperrors.ErrDatabaseError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// GetRun returns a run with its trades ordered by window.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var r RunRecord
	var durationNs int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, started_at, duration, bars, bandwidth, patterns, failures
		FROM runs WHERE id = ?
	`, id).Scan(&r.ID, &r.Symbol, &r.StartedAt, &durationNs, &r.Bars, &r.Bandwidth, &r.Patterns, &r.Failures)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: run %s", apperrors.ErrDataNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get run: %v", apperrors.ErrDatabaseError, err)
	}
	r.Duration = time.Duration(durationNs)

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, window_index, indices, prices, outcome, gross_return, net_return, neckline, entry_index, exit_index, exit_price, exit_reason, error
		FROM run_trades WHERE run_id = ? ORDER BY window_index ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query run trades: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var t TradeRecord
		var indicesJSON, pricesJSON string
		if err := rows.Scan(&t.Kind, &t.Window, &indicesJSON, &pricesJSON, &t.Outcome, &t.Return, &t.NetReturn,
			&t.Neckline, &t.EntryIndex, &t.ExitIndex, &t.ExitPrice, &t.ExitReason, &t.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run trade: %w", err)
		}
		if err := json.Unmarshal([]byte(indicesJSON), &t.Indices); err != nil {
			return nil, fmt.Errorf("%w: decoding indices of window %d: %v", apperrors.ErrDatabaseError, t.Window, err)
		}
		if err := json.Unmarshal([]byte(pricesJSON), &t.Prices); err != nil {
			return nil, fmt.Errorf("%w: decoding prices of window %d: %v", apperrors.ErrDatabaseError, t.Window, err)
		}
		r.Trades = append(r.Trades, t)
	}

	return &r, rows.Err()
}

// ListRuns returns runs newest first, without their trades.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	query := "SELECT id, symbol, started_at, duration, bars, bandwidth, patterns, failures FROM runs WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND started_at <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query runs: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var durationNs int64
		if err := rows.Scan(&r.ID, &r.Symbol, &r.StartedAt, &durationNs, &r.Bars, &r.Bandwidth, &r.Patterns, &r.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Duration = time.Duration(durationNs)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
