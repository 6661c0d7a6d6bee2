// Package live drives a strategy instance from a tick channel and forwards
// approved instructions to a sink
package live

import (
	"context"
	"fmt"
	"sync"
	"time"

	"orderflow/internal/config"
	"orderflow/internal/core"
	"orderflow/internal/risk"
	"orderflow/internal/trading/position"
	"orderflow/internal/trading/strategy"
	"orderflow/pkg/telemetry"
	"orderflow/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Status is a point-in-time view of the runner, safe to read from other goroutines
type Status struct {
	Symbol       string
	Position     decimal.Decimal
	Equity       decimal.Decimal
	Realized     decimal.Decimal
	Ticks        int
	Skipped      int
	Sent         int
	SendFailures int
	LastTick     time.Time
}

// Runner processes ticks strictly one at a time. The ledger assumes every
// instruction accepted by the sink fills at the signal price.
type Runner struct {
	inst    *strategy.Instance
	sink    core.IInstructionSink
	ledger  *position.Ledger
	daily   *risk.DailyPnL
	feeRate decimal.Decimal

	logger  core.ILogger
	metrics *telemetry.MetricsHolder
	status  rate.Sometimes
	now     func() time.Time

	mu    sync.RWMutex
	state Status
}

// NewRunner builds a runner for one instrument
func NewRunner(cfg config.StrategyConfig, initialBalance decimal.Decimal, sink core.IInstructionSink, logger core.ILogger) (*Runner, error) {
	inst, err := strategy.NewInstance(cfg, logger)
	if err != nil {
		return nil, err
	}
	interval := time.Duration(cfg.UpdateInterval * float64(time.Second))
	if interval <= 0 {
		interval = time.Second
	}
	ledger := position.NewLedger(initialBalance)
	return &Runner{
		inst:    inst,
		sink:    sink,
		ledger:  ledger,
		daily:   risk.NewDailyPnL(),
		feeRate: decimal.NewFromFloat(cfg.FeeRate),
		logger:  logger.WithField("component", "live_runner").WithField("symbol", cfg.Symbol),
		metrics: telemetry.GetGlobalMetrics(),
		status:  rate.Sometimes{Interval: interval},
		now:     time.Now,
		state:   Status{Symbol: cfg.Symbol, Equity: ledger.Equity()},
	}, nil
}

// Run consumes ticks until the channel closes or ctx is cancelled. Both end the run cleanly.
func (r *Runner) Run(ctx context.Context, ticks <-chan core.Tick) error {
	r.logger.Info("live runner started")
	defer r.logger.Info("live runner stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			if _, err := r.Handle(ctx, tick); err != nil && !strategy.IsSkippable(err) {
				return err
			}
		}
	}
}

// Handle runs one tick through the pipeline and delivers any instruction.
// Per-tick validation errors are returned but leave the runner usable.
func (r *Runner) Handle(ctx context.Context, tick core.Tick) (strategy.TickResult, error) {
	view := risk.PositionView{Size: r.ledger.Size(), RealizedToday: r.daily.RealizedToday(tick.Timestamp())}
	res, err := r.inst.ProcessTick(ctx, tick, view)

	r.mu.Lock()
	r.state.Ticks++
	r.state.LastTick = r.now()
	if err != nil {
		r.state.Skipped++
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Debug("tick skipped", "kind", tick.Kind.String(), "error", err)
		return res, err
	}

	if res.Book != nil {
		r.ledger.MarkToMarket(res.Book.MidPrice)
	}
	if res.Instruction != nil {
		r.deliver(ctx, res.Signal, *res.Instruction)
	}
	r.publish()

	r.status.Do(func() {
		st := r.Status()
		r.logger.Info("status",
			"position", st.Position.String(),
			"equity", st.Equity.String(),
			"ticks", st.Ticks,
			"skipped", st.Skipped,
			"sent", st.Sent)
	})
	return res, nil
}

func (r *Runner) deliver(ctx context.Context, sig *core.Signal, inst core.Instruction) {
	start := time.Now()
	err := r.sink.Send(ctx, inst)
	r.metrics.RecordSinkLatency(ctx, inst.Symbol, fmt.Sprintf("%T", r.sink), float64(time.Since(start).Milliseconds()))

	if err != nil {
		sig.MarkFailed(err.Error())
		r.metrics.RecordSignal(ctx, inst.Symbol, string(sig.Direction), string(sig.Status))
		r.mu.Lock()
		r.state.SendFailures++
		r.mu.Unlock()
		r.logger.Error("failed to deliver instruction", "signal", sig.ID, "error", err)
		return
	}

	fee := tradingutils.CalculateFee(inst.Price, inst.Size, r.feeRate)
	fill, err := r.ledger.ApplyFill(inst.Direction, inst.Size, inst.Price, fee)
	if err != nil {
		sig.MarkFailed(err.Error())
		r.metrics.RecordSignal(ctx, inst.Symbol, string(sig.Direction), string(sig.Status))
		r.logger.Error("failed to book fill", "signal", sig.ID, "error", err)
		return
	}
	r.daily.Record(inst.Timestamp, fill.Realized.Sub(fee))
	if fill.Closed {
		r.daily.RecordClose(fill.Realized.Sub(fee))
	}

	sig.MarkExecuted()
	r.metrics.RecordSignal(ctx, inst.Symbol, string(sig.Direction), string(sig.Status))
	r.metrics.RecordFill(ctx, inst.Symbol, string(inst.Direction), tradingutils.ToFloat(inst.Size))
	if !fill.Realized.IsZero() {
		r.metrics.RecordRealizedPnL(ctx, inst.Symbol, tradingutils.ToFloat(fill.Realized))
	}

	r.mu.Lock()
	r.state.Sent++
	r.mu.Unlock()
	r.logger.Info("instruction sent", "signal", sig.ID, "direction", inst.Direction, "size", inst.Size.String(), "price", inst.Price.String())
}

func (r *Runner) publish() {
	sym := r.inst.Symbol()
	r.metrics.SetPositionSize(sym, tradingutils.ToFloat(r.ledger.Size()))
	r.metrics.SetUnrealizedPnL(sym, tradingutils.ToFloat(r.ledger.UnrealizedPnL()))
	r.metrics.SetEquity(sym, tradingutils.ToFloat(r.ledger.Equity()))

	r.mu.Lock()
	r.state.Position = r.ledger.Size()
	r.state.Equity = r.ledger.Equity()
	r.state.Realized = r.ledger.RealizedPnL()
	r.mu.Unlock()
}

// Status returns a copy of the current state
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Stats exposes the strategy counters. Not safe to call while Run is active.
func (r *Runner) Stats() strategy.Stats {
	return r.inst.Stats()
}

// CheckFresh returns an error when no tick arrived within maxAge. Used as a health check.
func (r *Runner) CheckFresh(maxAge time.Duration) error {
	st := r.Status()
	if st.LastTick.IsZero() {
		return fmt.Errorf("no ticks received yet")
	}
	if age := r.now().Sub(st.LastTick); age > maxAge {
		return fmt.Errorf("last tick %s ago", age.Truncate(time.Millisecond))
	}
	return nil
}
