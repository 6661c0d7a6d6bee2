package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(id string, startedAt int64) core.RunRecord {
	return core.RunRecord{
		RunID:          id,
		Symbol:         "ETHUSDT",
		StartedAt:      startedAt,
		InitialBalance: "10000",
		FinalBalance:   "10000.2",
		Trades: []core.TradeRecord{
			{
				EntryTime:  1,
				ExitTime:   2,
				Direction:  core.SideBuy,
				EntryPrice: decimal.NewFromInt(100),
				ExitPrice:  decimal.NewFromInt(102),
				Size:       decimal.RequireFromString("0.1"),
				PnL:        decimal.RequireFromString("0.2"),
				ExitReason: core.ExitTakeProfit,
			},
		},
		Equity: []core.EquitySample{
			{Timestamp: 1, Equity: decimal.NewFromInt(10000)},
			{Timestamp: 2, Equity: decimal.RequireFromString("10000.2")},
		},
		Summary: map[string]float64{"win_rate": 1, "profit_factor": math.Inf(1)},
	}
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]core.IResultStore {
	return map[string]core.IResultStore{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStore_SaveLoad(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveRun(ctx, sampleRun("r1", 100)))

			got, err := s.LoadRun(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "ETHUSDT", got.Symbol)
			assert.Equal(t, "10000.2", got.FinalBalance)
			require.Len(t, got.Trades, 1)
			assert.True(t, got.Trades[0].PnL.Equal(decimal.RequireFromString("0.2")))
			assert.Equal(t, core.ExitTakeProfit, got.Trades[0].ExitReason)
			require.Len(t, got.Equity, 2)
			assert.True(t, got.Equity[1].Equity.Equal(decimal.RequireFromString("10000.2")))
			assert.True(t, math.IsInf(got.Summary["profit_factor"], 1))
			assert.Equal(t, 1.0, got.Summary["win_rate"])
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LoadRun(context.Background(), "missing")
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrRunNotFound))
		})
	}
}

func TestStore_ListAndReplace(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveRun(ctx, sampleRun("old", 100)))
			require.NoError(t, s.SaveRun(ctx, sampleRun("new", 200)))

			replaced := sampleRun("old", 100)
			replaced.Trades = nil
			require.NoError(t, s.SaveRun(ctx, replaced))

			runs, err := s.ListRuns(ctx)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "new", runs[0].RunID)
			assert.Equal(t, 1, runs[0].TradeCount)
			assert.Equal(t, "old", runs[1].RunID)
			assert.Equal(t, 0, runs[1].TradeCount)

			got, err := s.LoadRun(ctx, "old")
			require.NoError(t, err)
			assert.Empty(t, got.Trades)
		})
	}
}

func TestSQLiteStore_DetectsCorruption(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleRun("r1", 1)))

	_, err := s.db.ExecContext(ctx, `UPDATE runs SET summary = '{"win_rate":"0"}' WHERE run_id = 'r1'`)
	require.NoError(t, err)

	_, err = s.LoadRun(ctx, "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveRun(context.Background(), sampleRun("r1", 1)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, got.Equity, 2)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	run := sampleRun("r1", 1)
	require.NoError(t, s.SaveRun(ctx, run))
	run.Summary["win_rate"] = 0

	got, err := s.LoadRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Summary["win_rate"])
}
