package backtest

import (
	"context"
	"errors"
	"testing"

	"orderflow/internal/config"
	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/logging"
	"orderflow/pkg/telemetry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Strategy.ImbalanceThreshold = 0.5
	cfg.Strategy.SignalStrengthThreshold = 0.4
	cfg.Strategy.ConfirmationTicks = 3
	cfg.Backtest.ProgressEvery = 0
	return cfg
}

// book builds a one-level book around bid/ask with the given sizes
func book(ts float64, bid, ask, bidSize, askSize string) *core.OrderBookSnapshot {
	return core.NewOrderBookSnapshot(ts,
		[]core.PriceLevel{{Price: dec(bid), Size: dec(bidSize)}},
		[]core.PriceLevel{{Price: dec(ask), Size: dec(askSize)}},
	)
}

func bullish(ts float64) *core.OrderBookSnapshot { return book(ts, "99", "101", "80", "20") }

func newSimulator(t *testing.T, cfg *config.Config) *Simulator {
	t.Helper()
	sim, err := NewSimulator(cfg, logging.NewNop())
	require.NoError(t, err)
	return sim
}

func TestSimulator_ThreeTickScenario(t *testing.T) {
	sim := newSimulator(t, testConfig())
	ds := &Dataset{Symbol: "ETHUSDT", Snapshots: []*core.OrderBookSnapshot{bullish(1), bullish(2), bullish(3)}}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", res.Symbol)
	assert.Equal(t, 3, res.TicksProcessed)
	require.Len(t, res.Signals, 1)
	sig := res.Signals[0]
	assert.Equal(t, core.SideBuy, sig.Direction)
	assert.Equal(t, core.SignalExecuted, sig.Status)
	assert.Equal(t, 3.0, sig.Timestamp)
	assert.Equal(t, 1, res.Executed)

	// the open position is closed at the last mid when data runs out
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, core.SideBuy, tr.Direction)
	assert.True(t, tr.EntryPrice.Equal(dec("100")))
	assert.True(t, tr.ExitPrice.Equal(dec("100")))
	assert.True(t, tr.Size.Equal(dec("0.1")))
	assert.True(t, tr.PnL.IsZero())
	assert.Equal(t, core.ExitEndOfData, tr.ExitReason)

	// one sample per processed tick plus the closing sample
	assert.Len(t, res.Equity, 4)
	assert.True(t, res.FinalBalance.Equal(dec("10000")))
	assert.Equal(t, 1, res.Report.TotalTrades)
}

func TestSimulator_Deterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.ConfirmationTicks = 1
	ds := &Dataset{
		Snapshots: []*core.OrderBookSnapshot{
			bullish(1),
			book(2, "100", "102", "20", "80"),
			book(3, "98", "100", "80", "20"),
			book(4, "97", "99", "50", "50"),
		},
		Trades: []*core.TradeEvent{
			{Timestamp: 1.5, Price: dec("100"), Size: dec("2"), Side: core.SideBuy, TradeID: "a"},
			{Timestamp: 2.5, Price: dec("101"), Size: dec("1"), Side: core.SideSell, TradeID: "b"},
		},
	}

	first, err := newSimulator(t, cfg).Run(context.Background(), ds)
	require.NoError(t, err)
	second, err := newSimulator(t, cfg).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, first.Trades, second.Trades)
	assert.Equal(t, first.Equity, second.Equity)
	require.Equal(t, len(first.Signals), len(second.Signals))
	for i := range first.Signals {
		assert.Equal(t, first.Signals[i].ID, second.Signals[i].ID)
		assert.Equal(t, first.Signals[i].Status, second.Signals[i].Status)
	}
	assert.Equal(t, first.Report, second.Report)
}

func TestSimulator_RejectsUnorderedData(t *testing.T) {
	sim := newSimulator(t, testConfig())
	res, err := sim.Run(context.Background(), &Dataset{Snapshots: []*core.OrderBookSnapshot{bullish(2), bullish(1)}})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, apperrors.ErrDataOrdering))

	var oe *apperrors.DataOrderingError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "orderbook", oe.Stream)
	assert.Equal(t, 1, oe.Index)
}

func TestSimulator_SkipsInvalidTicks(t *testing.T) {
	sim := newSimulator(t, testConfig())
	ds := &Dataset{
		Snapshots: []*core.OrderBookSnapshot{
			bullish(1),
			book(2, "102", "101", "1", "1"),
		},
		Trades: []*core.TradeEvent{
			{Timestamp: 3, Price: dec("100"), Size: decimal.Zero, Side: core.SideBuy},
		},
	}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TicksProcessed)
	assert.Equal(t, 2, res.TicksSkipped)
	assert.Len(t, res.Equity, 1)
	assert.Equal(t, 1, res.Stats.SkippedBooks)
	assert.Equal(t, 1, res.Stats.DroppedTrades)
}

func TestSimulator_StopLoss(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.ConfirmationTicks = 1
	sim := newSimulator(t, cfg)
	ds := &Dataset{Snapshots: []*core.OrderBookSnapshot{
		bullish(1),
		book(2, "96", "98", "50", "50"),
	}}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, core.ExitStopLoss, tr.ExitReason)
	assert.True(t, tr.ExitPrice.Equal(dec("97")))
	assert.True(t, tr.PnL.Equal(dec("-0.3")), tr.PnL.String())
	assert.Equal(t, 2.0, tr.ExitTime)

	require.Len(t, res.Equity, 2)
	assert.True(t, res.Equity[1].Equity.Equal(dec("9999.7")))
	assert.True(t, res.FinalBalance.Equal(dec("9999.7")))
}

func TestSimulator_TakeProfitThenSameTickSignal(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.ConfirmationTicks = 1
	sim := newSimulator(t, cfg)
	ds := &Dataset{Snapshots: []*core.OrderBookSnapshot{
		bullish(1),
		book(2, "101", "103", "20", "80"),
	}}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	assert.Equal(t, core.ExitTakeProfit, res.Trades[0].ExitReason)
	assert.True(t, res.Trades[0].PnL.Equal(dec("0.2")))

	// the sell signal on the same tick opens a short that runs to the end of data
	assert.Equal(t, core.SideSell, res.Trades[1].Direction)
	assert.True(t, res.Trades[1].EntryPrice.Equal(dec("102")))
	assert.Equal(t, core.ExitEndOfData, res.Trades[1].ExitReason)
	assert.Equal(t, 2, res.Executed)
}

func TestSimulator_SignalReversalCloses(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.ConfirmationTicks = 1
	cfg.Strategy.TakeProfitPct = 0
	sim := newSimulator(t, cfg)
	ds := &Dataset{Snapshots: []*core.OrderBookSnapshot{
		bullish(1),
		book(2, "101", "103", "20", "80"),
	}}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, core.ExitSignalReversal, res.Trades[0].ExitReason)
	assert.True(t, res.Trades[0].PnL.Equal(dec("0.2")))
	assert.True(t, res.FinalBalance.Equal(dec("10000.2")))
}

func TestSimulator_TouchFillAndFees(t *testing.T) {
	cfg := testConfig()
	cfg.Backtest.FillModel = config.FillModelTouch
	cfg.Strategy.FeeRate = 0.001
	sim := newSimulator(t, cfg)
	ds := &Dataset{Snapshots: []*core.OrderBookSnapshot{bullish(1), bullish(2), bullish(3)}}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.True(t, tr.EntryPrice.Equal(dec("101")))
	assert.True(t, tr.ExitPrice.Equal(dec("99")))
	// -0.2 gross, fees 0.0101 on entry and 0.0099 on exit
	assert.True(t, tr.PnL.Equal(dec("-0.22")), tr.PnL.String())
	assert.True(t, res.FeesPaid.Equal(dec("0.02")), res.FeesPaid.String())
	assert.True(t, res.FinalBalance.Equal(dec("9999.78")))
}

func TestSimulator_RiskRejectionsCounted(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.ConfirmationTicks = 1
	cfg.Strategy.MaxOrdersPerMinute = 1
	cfg.Strategy.StopLossPct = 0
	cfg.Strategy.TakeProfitPct = 0
	sim := newSimulator(t, cfg)
	ds := &Dataset{Snapshots: []*core.OrderBookSnapshot{bullish(1), bullish(2), bullish(3)}}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Confirmed)
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, 2, res.RejectionCounts["rate_limited"])
	assert.Equal(t, core.SignalRejected, res.Signals[1].Status)
}

// countdownCtx reports cancellation after a fixed number of Err calls
type countdownCtx struct {
	context.Context
	left int
}

func (c *countdownCtx) Err() error {
	if c.left <= 0 {
		return context.Canceled
	}
	c.left--
	return nil
}

func TestSimulator_CancelReturnsPartialResult(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.ConfirmationTicks = 1
	sim := newSimulator(t, cfg)
	ds := &Dataset{Snapshots: []*core.OrderBookSnapshot{bullish(1), bullish(2), bullish(3), bullish(4)}}

	ctx := &countdownCtx{Context: context.Background(), left: 2}
	res, err := sim.Run(ctx, ds)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Aborted)
	assert.Equal(t, 2, res.TicksProcessed)
	assert.Len(t, res.Equity, 2)
	// positions are not liquidated on abort
	assert.Empty(t, res.Trades)
	assert.True(t, res.OpenPosition.Equal(dec("0.2")))
}

func TestNewSimulator_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.PositionSize = 0
	_, err := NewSimulator(cfg, logging.NewNop())
	require.Error(t, err)
	assert.True(t, config.IsConfigurationError(err))
}

func TestDataset_MergeOrdersBooksFirst(t *testing.T) {
	ds := &Dataset{
		Snapshots: []*core.OrderBookSnapshot{bullish(1), bullish(2)},
		Trades:    []*core.TradeEvent{{Timestamp: 1}, {Timestamp: 1.5}},
	}
	ticks := ds.Merge()
	require.Len(t, ticks, 4)
	kinds := []core.TickKind{ticks[0].Kind, ticks[1].Kind, ticks[2].Kind, ticks[3].Kind}
	assert.Equal(t, []core.TickKind{core.TickBook, core.TickTrade, core.TickTrade, core.TickBook}, kinds)
}

func TestDataset_Window(t *testing.T) {
	ds := &Dataset{Snapshots: []*core.OrderBookSnapshot{bullish(1), bullish(2), bullish(3)}}
	w := ds.Window(2, 0)
	assert.Equal(t, 2, w.Len())
}

func TestSimulator_ForcedCloseOnSkippedFinalTickIsSampled(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.ConfirmationTicks = 1
	cfg.Strategy.StopLossPct = 0.005
	cfg.Backtest.FillModel = config.FillModelTouch
	sim := newSimulator(t, cfg)
	ds := &Dataset{
		Snapshots: []*core.OrderBookSnapshot{bullish(1)},
		Trades: []*core.TradeEvent{
			{Timestamp: 2, Price: dec("100"), Size: decimal.Zero, Side: core.SideBuy, TradeID: "zero"},
		},
	}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TicksSkipped)

	// bought at the ask 101, stopped out at the bid 99 on the invalid trade tick
	require.Len(t, res.Trades, 1)
	assert.Equal(t, core.ExitStopLoss, res.Trades[0].ExitReason)
	assert.True(t, res.Trades[0].PnL.Equal(dec("-0.2")), res.Trades[0].PnL.String())

	require.Len(t, res.Equity, 2)
	last := res.Equity[len(res.Equity)-1]
	assert.Equal(t, 2.0, last.Timestamp)
	assert.True(t, last.Equity.Equal(dec("9999.8")), last.Equity.String())
	assert.True(t, res.FinalBalance.Equal(res.Report.FinalEquity), "%s != %s", res.FinalBalance, res.Report.FinalEquity)
}

func TestSimulator_SkippedTickWithoutCloseIsNotSampled(t *testing.T) {
	sim := newSimulator(t, testConfig())
	ds := &Dataset{
		Snapshots: []*core.OrderBookSnapshot{bullish(1)},
		Trades:    []*core.TradeEvent{{Timestamp: 2, Price: dec("100"), Size: decimal.Zero, Side: core.SideBuy}},
	}

	res, err := sim.Run(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TicksSkipped)
	assert.Len(t, res.Equity, 1)
}

func TestSweep_LeavesGaugesAlone(t *testing.T) {
	const symbol = "SWEEPGAUGEUSDT"
	ds := &Dataset{Symbol: symbol, Snapshots: []*core.OrderBookSnapshot{bullish(1), bullish(2), bullish(3)}}
	cfg := testConfig()
	cfg.Strategy.ConfirmationTicks = 1

	results, err := Sweep(context.Background(), ds, []SweepJob{
		{Name: "a", Config: cfg},
		{Name: "b", Config: cfg},
	}, 2, logging.NewNop())
	require.NoError(t, err)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, 3, r.Result.Confirmed)
	}

	m := telemetry.GetGlobalMetrics()
	_, ok := m.GetEquity()[symbol]
	assert.False(t, ok)
	_, ok = m.GetPositionSize()[symbol]
	assert.False(t, ok)

	// a plain run of the same data does publish
	_, err = newSimulator(t, cfg).Run(context.Background(), ds)
	require.NoError(t, err)
	_, ok = m.GetEquity()[symbol]
	assert.True(t, ok)
}

func TestSweep(t *testing.T) {
	ds := &Dataset{Snapshots: []*core.OrderBookSnapshot{bullish(1), bullish(2), bullish(3)}}

	fast := testConfig()
	fast.Strategy.ConfirmationTicks = 1
	slow := testConfig()
	broken := testConfig()
	broken.Strategy.PositionSize = -1

	results, err := Sweep(context.Background(), ds, []SweepJob{
		{Name: "fast", Config: fast},
		{Name: "slow", Config: slow},
		{Name: "broken", Config: broken},
	}, 2, logging.NewNop())
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "fast", results[0].Name)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Result.Confirmed)

	require.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Result.Confirmed)

	assert.Error(t, results[2].Err)
}

func TestNewFillModel(t *testing.T) {
	m, err := NewFillModel("")
	require.NoError(t, err)
	assert.Equal(t, config.FillModelMid, m.Name())

	_, err = NewFillModel("vwap")
	assert.Error(t, err)

	q := core.BookMetrics{BestBid: dec("99"), BestAsk: dec("101"), MidPrice: dec("100")}
	assert.True(t, TouchFill{}.Price(core.SideSell, q).Equal(dec("99")))
	assert.True(t, MidFill{}.Price(core.SideSell, q).Equal(dec("100")))
}
