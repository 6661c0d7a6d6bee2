package signal

import (
	"errors"
	"testing"

	"orderflow/internal/config"
	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, ticks int) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Symbol:                  "BTCUSDT",
		ImbalanceThreshold:      0.5,
		SignalStrengthThreshold: 0.4,
		ConfirmationTicks:       ticks,
	}, logging.NewNop())
	require.NoError(t, err)
	return e
}

func book(imb, wimb float64) core.BookMetrics {
	return core.BookMetrics{Imbalance: imb, WeightedImbalance: wimb, MidPrice: decimal.NewFromInt(100)}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	tests := []EngineConfig{
		{ImbalanceThreshold: 1.2, SignalStrengthThreshold: 0.5, ConfirmationTicks: 1},
		{ImbalanceThreshold: 0.5, SignalStrengthThreshold: -0.5, ConfirmationTicks: 1},
		{ImbalanceThreshold: 0.5, SignalStrengthThreshold: 0.5, ConfirmationTicks: 0},
		{ImbalanceThreshold: 0.5, SignalStrengthThreshold: 0.5, ConfirmationTicks: 1, DirectionPriority: []string{"spread"}},
	}
	for _, cfg := range tests {
		_, err := NewEngine(cfg, logging.NewNop())
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
	}
}

func TestScore_Formula(t *testing.T) {
	e := newEngine(t, 1)
	tests := []struct {
		name     string
		book     core.BookMetrics
		flow     core.FlowMetrics
		strength float64
		dir      core.Side
		cand     bool
	}{
		{"book only", book(0.6, 0.6), core.FlowMetrics{}, 0.42, core.SideBuy, true},
		{"weak trade flow ignored", book(0.6, 0.6), core.FlowMetrics{TradeImbalance: 0.3}, 0.42, core.SideBuy, true},
		{"trade flow contributes", book(0.6, 0.6), core.FlowMetrics{TradeImbalance: 0.5}, 0.52, core.SideBuy, true},
		{"momentum capped", book(0.6, 0.6), core.FlowMetrics{Momentum: 0.01}, 0.52, core.SideBuy, true},
		{"small momentum", book(0.6, 0.6), core.FlowMetrics{Momentum: 0.0005}, 0.42, core.SideBuy, true},
		{"momentum against book", book(0.6, 0.6), core.FlowMetrics{Momentum: -0.0015}, 0.52, core.SideBuy, true},
		{"sell side", book(-0.8, -0.7), core.FlowMetrics{}, 0.53, core.SideSell, true},
		{"below imbalance threshold", book(0.4, 0.9), core.FlowMetrics{}, 0.43, core.SideBuy, false},
		{"below strength threshold", book(0.5, 0.1), core.FlowMetrics{}, 0.23, core.SideBuy, false},
		{"clamped at one", book(1, 1), core.FlowMetrics{TradeImbalance: 1, Momentum: 1}, 1, core.SideBuy, true},
		{"flat", book(0, 0), core.FlowMetrics{}, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := e.Score(tt.book, tt.flow)
			assert.InDelta(t, tt.strength, sc.Strength, 1e-9)
			assert.Equal(t, tt.dir, sc.Direction)
			assert.Equal(t, tt.cand, sc.Candidate)
		})
	}
}

func TestScore_DirectionPriority(t *testing.T) {
	b := book(0.6, 0.6)
	f := core.FlowMetrics{TradeImbalance: -0.9}

	// default: imbalance wins over trade flow
	assert.Equal(t, core.SideBuy, newEngine(t, 1).Score(b, f).Direction)

	e, err := NewEngine(EngineConfig{
		ImbalanceThreshold:      0.5,
		SignalStrengthThreshold: 0.4,
		ConfirmationTicks:       1,
		DirectionPriority:       []string{config.IndicatorTradeFlow, config.IndicatorImbalance},
	}, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, core.SideSell, e.Score(b, f).Direction)

	// trade flow breaks the tie when the book is balanced
	sc := newEngine(t, 1).Score(book(0, 0), core.FlowMetrics{TradeImbalance: -0.9, Momentum: 0.002})
	assert.Equal(t, core.SideSell, sc.Direction)
}

func TestScore_ReasonListsContributors(t *testing.T) {
	sc := newEngine(t, 1).Score(book(0.6, 0.5), core.FlowMetrics{TradeImbalance: 0.1, Momentum: 0.002})
	assert.Contains(t, sc.Reason, "imbalance=+0.6000")
	assert.Contains(t, sc.Reason, "weighted_imbalance=+0.5000")
	assert.Contains(t, sc.Reason, "momentum=+0.0020")
	assert.NotContains(t, sc.Reason, "trade_flow")
}

func TestEvaluate_ConfirmsAfterThreeTicks(t *testing.T) {
	e := newEngine(t, 3)

	var confirmed []*core.Signal
	for i := 1; i <= 3; i++ {
		ev := e.Evaluate(float64(i), book(0.6, 0.6), core.FlowMetrics{})
		if ev.Signal != nil {
			confirmed = append(confirmed, ev.Signal)
		}
		if i < 3 {
			p, ok := ev.State.(Pending)
			require.True(t, ok)
			assert.Equal(t, i, p.Count)
		}
	}

	require.Len(t, confirmed, 1)
	sig := confirmed[0]
	assert.Equal(t, core.SideBuy, sig.Direction)
	assert.Equal(t, core.SignalConfirmed, sig.Status)
	assert.InDelta(t, 0.42, sig.Strength, 1e-9)
	assert.Equal(t, 3.0, sig.Timestamp)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(100)))
	assert.NotEmpty(t, sig.ID)
	assert.IsType(t, Confirmed{}, e.State())

	// next tick starts a fresh run
	ev := e.Evaluate(4, book(0.6, 0.6), core.FlowMetrics{})
	assert.Nil(t, ev.Signal)
	assert.Equal(t, 1, ev.State.(Pending).Count)
}

func TestEvaluate_OppositeDirectionResets(t *testing.T) {
	e := newEngine(t, 3)
	assert.Nil(t, e.Evaluate(1, book(0.6, 0.6), core.FlowMetrics{}).Signal)
	assert.Nil(t, e.Evaluate(2, book(0.6, 0.6), core.FlowMetrics{}).Signal)

	ev := e.Evaluate(3, book(-0.6, -0.6), core.FlowMetrics{})
	assert.Nil(t, ev.Signal)
	p := ev.State.(Pending)
	assert.Equal(t, core.SideSell, p.Direction)
	assert.Equal(t, 1, p.Count)
}

func TestEvaluate_NoCandidateResets(t *testing.T) {
	e := newEngine(t, 2)
	assert.Nil(t, e.Evaluate(1, book(0.6, 0.6), core.FlowMetrics{}).Signal)

	ev := e.Evaluate(2, book(0.1, 0.1), core.FlowMetrics{})
	assert.Nil(t, ev.Signal)
	assert.IsType(t, Idle{}, ev.State)

	assert.Nil(t, e.Evaluate(3, book(0.6, 0.6), core.FlowMetrics{}).Signal)
	assert.NotNil(t, e.Evaluate(4, book(0.6, 0.6), core.FlowMetrics{}).Signal)
}

func TestEvaluate_SingleTickConfirmsImmediately(t *testing.T) {
	e := newEngine(t, 1)
	for i := 0; i < 3; i++ {
		ev := e.Evaluate(float64(i), book(0.6, 0.6), core.FlowMetrics{})
		require.NotNil(t, ev.Signal)
	}
	c, n := e.Counts()
	assert.Equal(t, 3, c)
	assert.Equal(t, 3, n)
}

func TestEvaluate_DeterministicIDs(t *testing.T) {
	run := func() []string {
		e := newEngine(t, 1)
		var ids []string
		for i := 0; i < 5; i++ {
			ids = append(ids, e.Evaluate(float64(i), book(0.6, 0.6), core.FlowMetrics{}).Signal.ID)
		}
		return ids
	}
	first := run()
	assert.Equal(t, first, run())
	assert.NotEqual(t, first[0], first[1])
}

func TestSignal_TerminalStatusIsFinal(t *testing.T) {
	s := &core.Signal{Status: core.SignalGenerated}
	require.True(t, s.Confirm())
	require.True(t, s.MarkExecuted())
	assert.False(t, s.Reject("rate_limited"))
	assert.False(t, s.MarkFailed("boom"))
	assert.Equal(t, core.SignalExecuted, s.Status)
}
