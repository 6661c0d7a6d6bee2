package strategy

import (
	"context"
	"errors"
	"testing"

	"orderflow/internal/config"
	"orderflow/internal/core"
	"orderflow/internal/risk"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.StrategyConfig {
	cfg := config.DefaultConfig().Strategy
	cfg.ImbalanceThreshold = 0.5
	cfg.SignalStrengthThreshold = 0.4
	cfg.ConfirmationTicks = 3
	return cfg
}

func bookTick(ts float64, bidSize, askSize string) core.Tick {
	return core.BookTick(core.NewOrderBookSnapshot(ts,
		[]core.PriceLevel{{Price: decimal.NewFromInt(99), Size: decimal.RequireFromString(bidSize)}},
		[]core.PriceLevel{{Price: decimal.NewFromInt(101), Size: decimal.RequireFromString(askSize)}},
	))
}

func newInstance(t *testing.T, cfg config.StrategyConfig) *Instance {
	t.Helper()
	inst, err := NewInstance(cfg, logging.NewNop())
	require.NoError(t, err)
	return inst
}

func TestNewInstance_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationTicks = 0
	_, err := NewInstance(cfg, logging.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestProcessTick_ThreeTickScenario(t *testing.T) {
	inst := newInstance(t, testConfig())
	ctx := context.Background()

	var signals []*core.Signal
	var instructions []*core.Instruction
	for i := 1; i <= 3; i++ {
		res, err := inst.ProcessTick(ctx, bookTick(float64(i), "80", "20"), risk.PositionView{})
		require.NoError(t, err)
		require.NotNil(t, res.Book)
		assert.InDelta(t, 0.6, res.Book.Imbalance, 1e-12)
		if res.Signal != nil {
			signals = append(signals, res.Signal)
		}
		if res.Instruction != nil {
			instructions = append(instructions, res.Instruction)
		}
	}

	require.Len(t, signals, 1)
	assert.Equal(t, core.SideBuy, signals[0].Direction)
	assert.Equal(t, core.SignalConfirmed, signals[0].Status)
	assert.InDelta(t, 0.42, signals[0].Strength, 1e-9)

	require.Len(t, instructions, 1)
	assert.Equal(t, signals[0].ID, instructions[0].SignalID)
	assert.True(t, instructions[0].Size.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, instructions[0].Price.Equal(decimal.NewFromInt(100)))

	st := inst.Stats()
	assert.Equal(t, 3, st.BookTicks)
	assert.Equal(t, 3, st.Candidates)
	assert.Equal(t, 1, st.Confirmed)
	assert.Equal(t, 1, st.Approved)
}

func TestProcessTick_RiskRejection(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationTicks = 1
	inst := newInstance(t, cfg)

	res, err := inst.ProcessTick(context.Background(), bookTick(1, "80", "20"), risk.PositionView{Size: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.NotNil(t, res.Signal)
	assert.Nil(t, res.Instruction)
	assert.Equal(t, core.SignalRejected, res.Signal.Status)
	assert.Equal(t, string(risk.ReasonMaxPosition), res.Signal.RejectReason)
	assert.Equal(t, 1, inst.Stats().RejectionCounts[risk.ReasonMaxPosition])
}

func TestProcessTick_RateLimitedAfterApprovals(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationTicks = 1
	cfg.MaxOrdersPerMinute = 2
	cfg.MaxPosition = 10
	inst := newInstance(t, cfg)
	ctx := context.Background()

	var reasons []risk.RejectReason
	for i := 0; i < 4; i++ {
		res, err := inst.ProcessTick(ctx, bookTick(float64(i), "80", "20"), risk.PositionView{})
		require.NoError(t, err)
		require.NotNil(t, res.Signal)
		reasons = append(reasons, res.Decision.Reason)
	}
	assert.Equal(t, []risk.RejectReason{"", "", risk.ReasonRateLimited, risk.ReasonRateLimited}, reasons)

	// a minute later the window has drained
	res, err := inst.ProcessTick(ctx, bookTick(61, "80", "20"), risk.PositionView{})
	require.NoError(t, err)
	assert.True(t, res.Decision.Approved)
}

func TestProcessTick_InvalidTicksSkipped(t *testing.T) {
	inst := newInstance(t, testConfig())
	ctx := context.Background()

	_, err := inst.ProcessTick(ctx, bookTick(1, "80", "20"), risk.PositionView{})
	require.NoError(t, err)

	crossed := core.BookTick(core.NewOrderBookSnapshot(2,
		[]core.PriceLevel{{Price: decimal.NewFromInt(102), Size: decimal.NewFromInt(1)}},
		[]core.PriceLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
	))
	res, err := inst.ProcessTick(ctx, crossed, risk.PositionView{})
	require.Error(t, err)
	assert.True(t, res.Skipped)
	assert.True(t, IsSkippable(err))

	bad := core.TradeTick(&core.TradeEvent{Timestamp: 3, Price: decimal.NewFromInt(100), Size: decimal.Zero, Side: core.SideBuy})
	res, err = inst.ProcessTick(ctx, bad, risk.PositionView{})
	require.Error(t, err)
	assert.True(t, res.Skipped)
	assert.True(t, IsSkippable(err))

	last, ok := inst.LastBook()
	require.True(t, ok)
	assert.Equal(t, 1.0, last.Timestamp)

	st := inst.Stats()
	assert.Equal(t, 1, st.SkippedBooks)
	assert.Equal(t, 1, st.DroppedTrades)
}

func TestProcessTick_TradesDoNotEvaluate(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationTicks = 1
	inst := newInstance(t, cfg)

	res, err := inst.ProcessTick(context.Background(), core.TradeTick(&core.TradeEvent{
		Timestamp: 1, Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(5), Side: core.SideBuy,
	}), risk.PositionView{})
	require.NoError(t, err)
	assert.Nil(t, res.Score)
	assert.Nil(t, res.Signal)
	assert.Equal(t, 1, inst.Stats().TradeTicks)
}
