// Package store persists finished backtest runs
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id          TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	started_at      INTEGER NOT NULL,
	initial_balance TEXT NOT NULL,
	final_balance   TEXT NOT NULL,
	trade_count     INTEGER NOT NULL,
	summary         TEXT NOT NULL,
	checksum        BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS run_trades (
	run_id      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	entry_time  REAL NOT NULL,
	exit_time   REAL NOT NULL,
	direction   TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price  TEXT NOT NULL,
	size        TEXT NOT NULL,
	pnl         TEXT NOT NULL,
	exit_reason TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS run_equity (
	run_id TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	ts     REAL NOT NULL,
	equity TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);
`

// SQLiteStore keeps runs in a local SQLite file in WAL mode
type SQLiteStore struct {
	db    *sql.DB
	retry failsafe.Executor[any]
}

// NewSQLiteStore opens (creating if needed) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	busy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return isBusy(err) }).
		WithBackoff(50*time.Millisecond, time.Second).
		WithMaxRetries(5).
		ReturnLastFailure().
		Build()

	return &SQLiteStore{db: db, retry: failsafe.With[any](busy)}, nil
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// SaveRun writes the run and its trades and equity curve in one transaction.
// Saving an existing run ID replaces it.
func (s *SQLiteStore) SaveRun(ctx context.Context, run core.RunRecord) error {
	summary, err := encodeSummary(run.Summary)
	if err != nil {
		return err
	}
	checksum := sha256.Sum256(summary)

	return s.retry.WithContext(ctx).Run(func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		for _, q := range []string{
			`DELETE FROM run_trades WHERE run_id = ?`,
			`DELETE FROM run_equity WHERE run_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, run.RunID); err != nil {
				return fmt.Errorf("failed to clear run %s: %w", run.RunID, err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO runs (run_id, symbol, started_at, initial_balance, final_balance, trade_count, summary, checksum)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Symbol, run.StartedAt, run.InitialBalance, run.FinalBalance, len(run.Trades), string(summary), checksum[:])
		if err != nil {
			return fmt.Errorf("failed to write run: %w", err)
		}

		tradeStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_trades (run_id, seq, entry_time, exit_time, direction, entry_price, exit_price, size, pnl, exit_reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare trade insert: %w", err)
		}
		defer tradeStmt.Close()
		for i, t := range run.Trades {
			if _, err := tradeStmt.ExecContext(ctx, run.RunID, i, t.EntryTime, t.ExitTime, string(t.Direction),
				t.EntryPrice.String(), t.ExitPrice.String(), t.Size.String(), t.PnL.String(), string(t.ExitReason)); err != nil {
				return fmt.Errorf("failed to write trade %d: %w", i, err)
			}
		}

		eqStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_equity (run_id, seq, ts, equity) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare equity insert: %w", err)
		}
		defer eqStmt.Close()
		for i, e := range run.Equity {
			if _, err := eqStmt.ExecContext(ctx, run.RunID, i, e.Timestamp, e.Equity.String()); err != nil {
				return fmt.Errorf("failed to write equity sample %d: %w", i, err)
			}
		}

		return tx.Commit()
	})
}

// LoadRun reads a run back. Returns ErrRunNotFound for unknown IDs.
func (s *SQLiteStore) LoadRun(ctx context.Context, runID string) (*core.RunRecord, error) {
	run := core.RunRecord{RunID: runID}
	var (
		summary  string
		checksum []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT symbol, started_at, initial_balance, final_balance, summary, checksum FROM runs WHERE run_id = ?`, runID).
		Scan(&run.Symbol, &run.StartedAt, &run.InitialBalance, &run.FinalBalance, &summary, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}

	computed := sha256.Sum256([]byte(summary))
	if string(computed[:]) != string(checksum) {
		return nil, fmt.Errorf("checksum verification failed for run %s: data corruption detected", runID)
	}
	if run.Summary, err = decodeSummary([]byte(summary)); err != nil {
		return nil, err
	}

	if run.Trades, err = s.loadTrades(ctx, runID); err != nil {
		return nil, err
	}
	if run.Equity, err = s.loadEquity(ctx, runID); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) loadTrades(ctx context.Context, runID string) ([]core.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_time, exit_time, direction, entry_price, exit_price, size, pnl, exit_reason
		 FROM run_trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []core.TradeRecord
	for rows.Next() {
		var (
			t                      core.TradeRecord
			dir, reason            string
			entry, exit, size, pnl string
		)
		if err := rows.Scan(&t.EntryTime, &t.ExitTime, &dir, &entry, &exit, &size, &pnl, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		vals, err := parseDecimals(entry, exit, size, pnl)
		if err != nil {
			return nil, fmt.Errorf("corrupt trade row: %w", err)
		}
		t.Direction = core.Side(dir)
		t.EntryPrice, t.ExitPrice, t.Size, t.PnL = vals[0], vals[1], vals[2], vals[3]
		t.ExitReason = core.ExitReason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadEquity(ctx context.Context, runID string) ([]core.EquitySample, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, equity FROM run_equity WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity: %w", err)
	}
	defer rows.Close()

	var out []core.EquitySample
	for rows.Next() {
		var (
			ts float64
			eq string
		)
		if err := rows.Scan(&ts, &eq); err != nil {
			return nil, fmt.Errorf("failed to scan equity sample: %w", err)
		}
		v, err := decimal.NewFromString(eq)
		if err != nil {
			return nil, fmt.Errorf("corrupt equity row: %w", err)
		}
		out = append(out, core.EquitySample{Timestamp: ts, Equity: v})
	}
	return out, rows.Err()
}

// ListRuns returns all runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]core.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, symbol, started_at, final_balance, trade_count FROM runs ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []core.RunSummary
	for rows.Next() {
		var r core.RunSummary
		if err := rows.Scan(&r.RunID, &r.Symbol, &r.StartedAt, &r.FinalBalance, &r.TradeCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeSummary stores floats as strings so that +Inf profit factors survive
func encodeSummary(m map[string]float64) ([]byte, error) {
	raw := make(map[string]string, len(m))
	for k, v := range m {
		raw[k] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return data, nil
}

func decodeSummary(data []byte) (map[string]float64, error) {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("summary field %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func parseDecimals(vals ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
