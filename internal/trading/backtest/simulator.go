// Package backtest replays recorded book and trade data through a strategy
// instance and simulates fills against a position ledger
package backtest

import (
	"context"
	"fmt"

	"orderflow/internal/config"
	"orderflow/internal/core"
	"orderflow/internal/risk"
	"orderflow/internal/trading/orderbook"
	"orderflow/internal/trading/performance"
	"orderflow/internal/trading/position"
	"orderflow/internal/trading/strategy"
	"orderflow/pkg/telemetry"
	"orderflow/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Result is everything a run produced. On abort it holds the state at the abort point.
type Result struct {
	Symbol          string
	Trades          []core.TradeRecord
	Equity          []core.EquitySample
	Signals         []*core.Signal
	Confirmed       int
	Executed        int
	Rejected        int
	Failed          int
	RejectionCounts map[risk.RejectReason]int
	TicksProcessed  int
	TicksSkipped    int
	InitialBalance  decimal.Decimal
	FinalBalance    decimal.Decimal
	FeesPaid        decimal.Decimal
	Stats           strategy.Stats
	Report          performance.Report
	Aborted         bool
	// OpenPosition is non-zero only for aborted runs
	OpenPosition decimal.Decimal
}

// Simulator replays datasets deterministically. It holds only read-only
// configuration, so one Simulator may run several datasets in sequence.
type Simulator struct {
	cfg        config.Config
	fill       FillModel
	initial    decimal.Decimal
	feeRate    decimal.Decimal
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
	logger     core.ILogger
	metrics    *telemetry.MetricsHolder
	gauges     bool
}

// NewSimulator validates cfg and returns a Simulator
func NewSimulator(cfg *config.Config, logger core.ILogger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fill, err := NewFillModel(cfg.Backtest.FillModel)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		cfg:        *cfg,
		fill:       fill,
		initial:    decimal.NewFromFloat(cfg.Backtest.InitialBalance),
		feeRate:    decimal.NewFromFloat(cfg.Strategy.FeeRate),
		stopLoss:   decimal.NewFromFloat(cfg.Strategy.StopLossPct),
		takeProfit: decimal.NewFromFloat(cfg.Strategy.TakeProfitPct),
		logger:     logger.WithField("component", "backtest").WithField("symbol", cfg.Strategy.Symbol),
		metrics:    telemetry.GetGlobalMetrics(),
		gauges:     true,
	}, nil
}

// DisableGauges stops the simulator from publishing position and equity gauges.
// Counters are still recorded. Used when several runs share a symbol concurrently.
func (s *Simulator) DisableGauges() { s.gauges = false }

type openTrade struct {
	rec  core.TradeRecord
	peak decimal.Decimal
	pnl  decimal.Decimal
}

// run is the mutable state of one replay
type run struct {
	sim    *Simulator
	inst   *strategy.Instance
	ledger *position.Ledger
	daily  *risk.DailyPnL
	open   *openTrade
	quotes core.BookMetrics
	quoted bool
	lastTs float64
	res    *Result
}

// Run replays ds. The dataset must be time-ordered per stream or the run fails
// with a DataOrderingError before any tick is processed. Cancellation is checked
// between ticks; on abort the partial result is returned together with ctx.Err().
func (s *Simulator) Run(ctx context.Context, ds *Dataset) (*Result, error) {
	if err := ds.CheckOrdering(); err != nil {
		return nil, err
	}

	stratCfg := s.cfg.Strategy
	if ds.Symbol != "" {
		stratCfg.Symbol = ds.Symbol
	}
	inst, err := strategy.NewInstance(stratCfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build strategy instance: %w", err)
	}

	r := &run{
		sim:    s,
		inst:   inst,
		ledger: position.NewLedger(s.initial),
		daily:  risk.NewDailyPnL(),
		res: &Result{
			Symbol:         stratCfg.Symbol,
			InitialBalance: s.initial,
		},
	}

	ticks := ds.Merge()
	var progress *rate.Sometimes
	if every := s.cfg.Backtest.ProgressEvery; every > 0 {
		progress = &rate.Sometimes{Every: every}
	}

	s.logger.Info("backtest started", "ticks", len(ticks), "snapshots", len(ds.Snapshots), "trades", len(ds.Trades), "fill_model", s.fill.Name())

	for idx, tick := range ticks {
		if err := ctx.Err(); err != nil {
			r.res.Aborted = true
			r.res.OpenPosition = r.ledger.Size()
			r.finish()
			s.logger.Warn("backtest aborted", "processed", idx, "total", len(ticks), "error", err)
			return r.res, err
		}
		r.step(ctx, tick)
		if progress != nil {
			progress.Do(func() {
				s.logger.Info("backtest progress", "processed", idx+1, "total", len(ticks), "equity", r.ledger.Equity().String())
			})
		}
	}

	if !r.ledger.IsFlat() && r.quoted {
		r.closePosition(ctx, r.lastTs, core.ExitEndOfData)
		r.sample(r.lastTs)
	}
	r.finish()

	s.logger.Info("backtest finished",
		"trades", len(r.res.Trades),
		"signals", r.res.Confirmed,
		"executed", r.res.Executed,
		"rejected", r.res.Rejected,
		"skipped", r.res.TicksSkipped,
		"final_balance", r.res.FinalBalance.String())
	return r.res, nil
}

func (r *run) step(ctx context.Context, tick core.Tick) {
	ts := tick.Timestamp()
	r.lastTs = ts

	if tick.Kind == core.TickBook && orderbook.Validate(tick.Book) == nil {
		bid, ask := tick.Book.Bids[0].Price, tick.Book.Asks[0].Price
		r.quotes = core.BookMetrics{Timestamp: ts, BestBid: bid, BestAsk: ask, MidPrice: tradingutils.MidPrice(bid, ask)}
		r.quoted = true
	}

	// protective exits run before any new signal is considered
	forced := false
	if r.quoted && !r.ledger.IsFlat() {
		r.ledger.MarkToMarket(r.quotes.MidPrice)
		if reason, hit := r.exitTriggered(); hit {
			r.closePosition(ctx, ts, reason)
			forced = true
		}
	}

	view := risk.PositionView{Size: r.ledger.Size(), RealizedToday: r.daily.RealizedToday(ts)}
	res, err := r.inst.ProcessTick(ctx, tick, view)
	if err != nil {
		r.res.TicksSkipped++
		r.sim.logger.Debug("tick skipped", "ts", ts, "kind", tick.Kind.String(), "error", err)
		// the curve must still see the equity change of a close on this tick
		if forced {
			r.sample(ts)
		}
		return
	}
	r.res.TicksProcessed++

	if res.Signal != nil {
		r.res.Signals = append(r.res.Signals, res.Signal)
		r.res.Confirmed++
	}
	if res.Instruction != nil {
		r.execute(ctx, res.Signal, res.Instruction)
	}

	r.sample(ts)
}

func (r *run) exitTriggered() (core.ExitReason, bool) {
	ret := r.ledger.UnrealizedReturn()
	if r.sim.stopLoss.IsPositive() && ret.LessThanOrEqual(r.sim.stopLoss.Neg()) {
		return core.ExitStopLoss, true
	}
	if r.sim.takeProfit.IsPositive() && ret.GreaterThanOrEqual(r.sim.takeProfit) {
		return core.ExitTakeProfit, true
	}
	return "", false
}

func (r *run) execute(ctx context.Context, sig *core.Signal, inst *core.Instruction) {
	price := r.sim.fill.Price(inst.Direction, r.quotes)
	if err := r.fill(ctx, inst.Timestamp, inst.Direction, inst.Size, price, core.ExitSignalReversal); err != nil {
		sig.MarkFailed(err.Error())
		r.res.Failed++
		r.sim.metrics.RecordSignal(ctx, r.res.Symbol, string(sig.Direction), string(sig.Status))
		r.sim.logger.Error("simulated fill failed", "signal", sig.ID, "error", err)
		return
	}
	sig.MarkExecuted()
	r.res.Executed++
	r.sim.metrics.RecordSignal(ctx, r.res.Symbol, string(sig.Direction), string(sig.Status))
}

func (r *run) closePosition(ctx context.Context, ts float64, reason core.ExitReason) {
	dir, ok := r.ledger.Direction()
	if !ok {
		return
	}
	side := dir.Opposite()
	price := r.sim.fill.Price(side, r.quotes)
	if err := r.fill(ctx, ts, side, r.ledger.Size().Abs(), price, reason); err != nil {
		r.sim.logger.Error("forced close failed", "reason", reason, "error", err)
	}
}

// fill books one execution and keeps the round-trip record in step with the ledger.
// Fees are split between the closing and opening parts of a flipping fill by quantity.
func (r *run) fill(ctx context.Context, ts float64, side core.Side, qty, price decimal.Decimal, reason core.ExitReason) error {
	fee := tradingutils.CalculateFee(price, qty, r.sim.feeRate)
	res, err := r.ledger.ApplyFill(side, qty, price, fee)
	if err != nil {
		return err
	}

	closeFee := decimal.Zero
	if res.ClosedQty.IsPositive() {
		closeFee = fee.Mul(res.ClosedQty).Div(qty)
	}
	openFee := fee.Sub(closeFee)

	if res.ClosedQty.IsPositive() && r.open != nil {
		r.open.pnl = r.open.pnl.Add(res.Realized).Sub(closeFee)
		if res.Closed {
			rec := r.open.rec
			rec.ExitTime = ts
			rec.ExitPrice = price
			rec.Size = r.open.peak
			rec.PnL = r.open.pnl
			rec.ExitReason = reason
			r.res.Trades = append(r.res.Trades, rec)
			r.daily.RecordClose(rec.PnL)
			r.open = nil
			r.sim.logger.Debug("trade closed", "direction", rec.Direction, "pnl", rec.PnL.String(), "reason", reason)
		}
	}

	if !res.NewSize.IsZero() {
		abs := res.NewSize.Abs()
		if r.open == nil {
			dir, _ := core.SideFromSign(float64(res.NewSize.Sign()))
			r.open = &openTrade{
				rec: core.TradeRecord{
					EntryTime:  ts,
					Direction:  dir,
					EntryPrice: r.ledger.AvgEntryPrice(),
				},
				peak: abs,
				pnl:  openFee.Neg(),
			}
		} else {
			r.open.pnl = r.open.pnl.Sub(openFee)
			r.open.rec.EntryPrice = r.ledger.AvgEntryPrice()
			if abs.GreaterThan(r.open.peak) {
				r.open.peak = abs
			}
		}
	}

	r.daily.Record(ts, res.Realized.Sub(fee))

	m := r.sim.metrics
	m.RecordFill(ctx, r.res.Symbol, string(side), tradingutils.ToFloat(qty))
	if !res.Realized.IsZero() {
		m.RecordRealizedPnL(ctx, r.res.Symbol, tradingutils.ToFloat(res.Realized))
	}
	if r.sim.gauges {
		m.SetPositionSize(r.res.Symbol, tradingutils.ToFloat(r.ledger.Size()))
	}
	return nil
}

func (r *run) sample(ts float64) {
	if r.quoted {
		r.ledger.MarkToMarket(r.quotes.MidPrice)
	}
	eq := r.ledger.Equity()
	r.res.Equity = append(r.res.Equity, core.EquitySample{Timestamp: ts, Equity: eq})
	if r.sim.gauges {
		r.sim.metrics.SetEquity(r.res.Symbol, tradingutils.ToFloat(eq))
	}
}

func (r *run) finish() {
	st := r.inst.Stats()
	r.res.Stats = st
	r.res.Rejected = st.Rejected
	r.res.RejectionCounts = st.RejectionCounts
	r.res.FeesPaid = r.ledger.FeesPaid()
	r.res.FinalBalance = r.ledger.Equity()
	r.res.Report = performance.Calculate(r.res.Trades, r.res.Equity, r.res.InitialBalance, performance.Options{
		PeriodsPerYear: r.sim.cfg.Backtest.PeriodsPerYear,
		RiskFreeRate:   r.sim.cfg.Backtest.RiskFreeRate,
	})
}
