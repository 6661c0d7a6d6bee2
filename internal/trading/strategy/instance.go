// Package strategy wires the analyzer, flow monitor, signal engine and risk gate
// of one instrument behind a single tick entry point
package strategy

import (
	"context"
	"errors"

	"orderflow/internal/config"
	"orderflow/internal/core"
	"orderflow/internal/risk"
	"orderflow/internal/trading/orderbook"
	"orderflow/internal/trading/signal"
	"orderflow/internal/trading/tradeflow"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Stats counts what an instance has seen
type Stats struct {
	BookTicks       int
	TradeTicks      int
	SkippedBooks    int
	DroppedTrades   int
	Candidates      int
	Confirmed       int
	Approved        int
	Rejected        int
	RejectionCounts map[risk.RejectReason]int
}

// TickResult is what one ProcessTick produced
type TickResult struct {
	Kind core.TickKind
	// Book holds the metrics of a valid book tick
	Book *core.BookMetrics
	// Score is set for evaluated book ticks
	Score *signal.Score
	// Signal is a confirmed signal, either approved (status confirmed) or rejected
	Signal *core.Signal
	// Instruction is set when the gate approved the signal
	Instruction *core.Instruction
	Decision    risk.Decision
	Skipped     bool
}

// Instance is the per-instrument pipeline. Each instance exclusively owns its
// components; only the configuration may be shared between instances.
// Ticks must be processed one at a time in timestamp order.
type Instance struct {
	symbol       string
	positionSize decimal.Decimal

	analyzer *orderbook.Analyzer
	monitor  *tradeflow.Monitor
	engine   *signal.Engine
	gate     *risk.Gate
	history  *risk.OrderRateHistory

	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	stats   Stats
}

// NewInstance builds the pipeline from a validated strategy config
func NewInstance(cfg config.StrategyConfig, logger core.ILogger) (*Instance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	analyzer, err := orderbook.NewAnalyzer(orderbook.AnalyzerConfig{
		Depth:              cfg.OrderbookDepth,
		WeightDecay:        cfg.WeightDecay,
		LiquidityRangePct:  cfg.LiquidityRangePct,
		LargeOrderNotional: cfg.MinOrderSize,
	})
	if err != nil {
		return nil, err
	}

	monCfg := tradeflow.DefaultMonitorConfig()
	monCfg.Window = cfg.TradeFlowWindow
	monCfg.LargeTradeNotional = cfg.LargeOrderThreshold
	monitor, err := tradeflow.NewMonitor(monCfg)
	if err != nil {
		return nil, err
	}

	engine, err := signal.NewEngine(signal.EngineConfig{
		Symbol:                  cfg.Symbol,
		ImbalanceThreshold:      cfg.ImbalanceThreshold,
		SignalStrengthThreshold: cfg.SignalStrengthThreshold,
		ConfirmationTicks:       cfg.ConfirmationTicks,
		DirectionPriority:       cfg.DirectionPriority,
	}, logger)
	if err != nil {
		return nil, err
	}

	gateCfg := risk.GateConfig{
		MaxPosition:        decimal.NewFromFloat(cfg.MaxPosition),
		MaxOrdersPerMinute: cfg.MaxOrdersPerMinute,
	}
	if cfg.MaxDailyLoss != nil {
		v := decimal.NewFromFloat(*cfg.MaxDailyLoss)
		gateCfg.MaxDailyLoss = &v
	}
	gate, err := risk.NewGate(gateCfg)
	if err != nil {
		return nil, err
	}

	return &Instance{
		symbol:       cfg.Symbol,
		positionSize: decimal.NewFromFloat(cfg.PositionSize),
		analyzer:     analyzer,
		monitor:      monitor,
		engine:       engine,
		gate:         gate,
		history:      risk.NewOrderRateHistory(),
		logger:       logger.WithField("component", "strategy").WithField("symbol", cfg.Symbol),
		metrics:      telemetry.GetGlobalMetrics(),
		stats:        Stats{RejectionCounts: make(map[risk.RejectReason]int)},
	}, nil
}

// Symbol returns the instrument this instance trades
func (i *Instance) Symbol() string { return i.symbol }

// PositionSize returns the quantity of one instruction
func (i *Instance) PositionSize() decimal.Decimal { return i.positionSize }

// LastBook returns the latest valid book metrics
func (i *Instance) LastBook() (core.BookMetrics, bool) { return i.analyzer.Last() }

// Engine exposes the signal engine for state inspection
func (i *Instance) Engine() *signal.Engine { return i.engine }

// Stats returns a copy of the counters
func (i *Instance) Stats() Stats {
	s := i.stats
	s.RejectionCounts = make(map[risk.RejectReason]int, len(i.stats.RejectionCounts))
	for k, v := range i.stats.RejectionCounts {
		s.RejectionCounts[k] = v
	}
	return s
}

// ProcessTick runs one tick through the pipeline to quiescence.
// Invalid ticks return their validation error with Skipped set; the caller
// should count and continue rather than abort.
func (i *Instance) ProcessTick(ctx context.Context, tick core.Tick, pos risk.PositionView) (TickResult, error) {
	switch tick.Kind {
	case core.TickTrade:
		return i.processTrade(ctx, tick.Trade)
	default:
		return i.processBook(ctx, tick.Book, pos)
	}
}

func (i *Instance) processTrade(ctx context.Context, t *core.TradeEvent) (TickResult, error) {
	res := TickResult{Kind: core.TickTrade}
	i.stats.TradeTicks++
	if t == nil {
		i.stats.DroppedTrades++
		res.Skipped = true
		return res, &apperrors.InvalidTradeError{Reason: "nil trade"}
	}
	if err := i.monitor.AddTrade(*t); err != nil {
		i.stats.DroppedTrades++
		i.metrics.RecordSkippedTick(ctx, i.symbol, "invalid_trade")
		res.Skipped = true
		return res, err
	}
	i.metrics.RecordTick(ctx, i.symbol, core.TickTrade.String())
	return res, nil
}

func (i *Instance) processBook(ctx context.Context, s *core.OrderBookSnapshot, pos risk.PositionView) (TickResult, error) {
	res := TickResult{Kind: core.TickBook}
	i.stats.BookTicks++

	book, err := i.analyzer.Analyze(s)
	if err != nil {
		i.stats.SkippedBooks++
		i.metrics.RecordSkippedTick(ctx, i.symbol, "invalid_book")
		res.Skipped = true
		if s != nil {
			i.monitor.Advance(s.Timestamp)
		}
		return res, err
	}
	res.Book = &book
	i.metrics.RecordTick(ctx, i.symbol, core.TickBook.String())
	i.metrics.SetImbalance(i.symbol, book.Imbalance)

	i.monitor.ObserveMid(s.Timestamp, book.MidPrice)
	ev := i.engine.Evaluate(s.Timestamp, book, i.monitor.Metrics())
	res.Score = &ev.Score
	if ev.Score.Candidate {
		i.stats.Candidates++
	}
	if ev.Signal == nil {
		return res, nil
	}

	sig := ev.Signal
	i.stats.Confirmed++
	res.Signal = sig

	delta := i.positionSize
	if sig.Direction == core.SideSell {
		delta = delta.Neg()
	}
	res.Decision = i.gate.Evaluate(risk.Proposal{Signal: sig, Delta: delta}, pos, i.history, s.Timestamp)
	if !res.Decision.Approved {
		sig.Reject(string(res.Decision.Reason))
		i.stats.Rejected++
		i.stats.RejectionCounts[res.Decision.Reason]++
		i.metrics.RecordRejection(ctx, i.symbol, string(res.Decision.Reason))
		i.metrics.RecordSignal(ctx, i.symbol, string(sig.Direction), string(sig.Status))
		i.logger.Info("signal rejected", "id", sig.ID, "direction", sig.Direction, "reason", res.Decision.Reason)
		return res, nil
	}

	i.stats.Approved++
	i.history.Record(s.Timestamp)
	res.Instruction = &core.Instruction{
		SignalID:  sig.ID,
		Symbol:    i.symbol,
		Direction: sig.Direction,
		Size:      i.positionSize,
		Price:     sig.Price,
		Timestamp: sig.Timestamp,
	}
	return res, nil
}

// IsSkippable reports whether err is a per-tick validation error that should not abort a run
func IsSkippable(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidBook) || errors.Is(err, apperrors.ErrInvalidTrade)
}
