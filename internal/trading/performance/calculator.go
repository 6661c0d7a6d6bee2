// Package performance derives win/loss, drawdown and risk-adjusted statistics
// from a finished trade log and equity curve
package performance

import (
	"math"

	"orderflow/internal/core"
	"orderflow/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// DefaultPeriodsPerYear annualizes per-sample returns
const DefaultPeriodsPerYear = 252

// Options tune the ratio calculations
type Options struct {
	PeriodsPerYear float64
	// RiskFreeRate is the annual rate subtracted from the annualized mean return
	RiskFreeRate float64
}

// Report summarizes a run. Ratios that would divide by zero hold sentinels:
// ProfitFactor is +Inf with profits and no losses, Sharpe and Sortino are 0
// when the relevant deviation is zero or undefined.
type Report struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	ProfitFactor  float64

	TotalPnL    decimal.Decimal
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal
	AvgWin      decimal.Decimal
	AvgLoss     decimal.Decimal
	LargestWin  decimal.Decimal
	LargestLoss decimal.Decimal

	InitialBalance decimal.Decimal
	FinalEquity    decimal.Decimal
	TotalReturn    float64

	MaxDrawdown              float64
	MaxDrawdownDuration      float64
	MaxDrawdownDurationTicks int

	SharpeRatio  float64
	SortinoRatio float64

	AvgHoldingTime       float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
}

// Calculate is a pure function of its inputs
func Calculate(trades []core.TradeRecord, equity []core.EquitySample, initialBalance decimal.Decimal, opts Options) Report {
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = DefaultPeriodsPerYear
	}

	r := Report{InitialBalance: initialBalance, FinalEquity: initialBalance}
	tradeStats(&r, trades)

	if len(equity) > 0 {
		r.FinalEquity = equity[len(equity)-1].Equity
	}
	if initialBalance.IsPositive() {
		r.TotalReturn = tradingutils.ToFloat(r.FinalEquity.Sub(initialBalance).Div(initialBalance))
	}

	r.MaxDrawdown, r.MaxDrawdownDuration, r.MaxDrawdownDurationTicks = Drawdown(equity)

	returns := Returns(equity)
	r.SharpeRatio = Sharpe(returns, opts.PeriodsPerYear, opts.RiskFreeRate)
	r.SortinoRatio = Sortino(returns, opts.PeriodsPerYear, opts.RiskFreeRate)
	return r
}

func tradeStats(r *Report, trades []core.TradeRecord) {
	r.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var holding float64
	wins, losses := 0, 0
	for _, t := range trades {
		r.TotalPnL = r.TotalPnL.Add(t.PnL)
		holding += t.HoldingTime()

		switch {
		case t.PnL.IsPositive():
			r.WinningTrades++
			r.GrossProfit = r.GrossProfit.Add(t.PnL)
			if t.PnL.GreaterThan(r.LargestWin) {
				r.LargestWin = t.PnL
			}
			wins++
			losses = 0
		case t.PnL.IsNegative():
			r.LosingTrades++
			r.GrossLoss = r.GrossLoss.Add(t.PnL)
			if t.PnL.LessThan(r.LargestLoss) {
				r.LargestLoss = t.PnL
			}
			losses++
			wins = 0
		default:
			wins, losses = 0, 0
		}
		if wins > r.MaxConsecutiveWins {
			r.MaxConsecutiveWins = wins
		}
		if losses > r.MaxConsecutiveLosses {
			r.MaxConsecutiveLosses = losses
		}
	}

	r.WinRate = float64(r.WinningTrades) / float64(r.TotalTrades)
	r.AvgHoldingTime = holding / float64(r.TotalTrades)
	if r.WinningTrades > 0 {
		r.AvgWin = r.GrossProfit.Div(decimal.NewFromInt(int64(r.WinningTrades)))
	}
	if r.LosingTrades > 0 {
		r.AvgLoss = r.GrossLoss.Div(decimal.NewFromInt(int64(r.LosingTrades)))
	}
	r.ProfitFactor = ProfitFactor(r.GrossProfit, r.GrossLoss)
}

// ProfitFactor returns profit / |loss|; +Inf with no losses and positive profit, 0 with no profit
func ProfitFactor(grossProfit, grossLoss decimal.Decimal) float64 {
	if !grossProfit.IsPositive() {
		return 0
	}
	if grossLoss.IsZero() {
		return math.Inf(1)
	}
	return tradingutils.ToFloat(grossProfit.Div(grossLoss.Abs()))
}

// Drawdown returns the largest peak-to-trough decline as a fraction of the peak and the
// longest stretch, in seconds and in samples, from a peak until equity regains it.
// A drawdown that never recovers is measured to the last sample.
func Drawdown(equity []core.EquitySample) (maxDD float64, maxDuration float64, maxTicks int) {
	if len(equity) == 0 {
		return 0, 0, 0
	}

	peak := equity[0].Equity
	peakIdx := 0
	inDrawdown := false

	closeSpan := func(endIdx int) {
		dur := equity[endIdx].Timestamp - equity[peakIdx].Timestamp
		if dur > maxDuration {
			maxDuration = dur
		}
		if ticks := endIdx - peakIdx; ticks > maxTicks {
			maxTicks = ticks
		}
	}

	for i, s := range equity {
		if s.Equity.GreaterThanOrEqual(peak) {
			if inDrawdown {
				closeSpan(i)
				inDrawdown = false
			}
			peak = s.Equity
			peakIdx = i
			continue
		}
		inDrawdown = true
		if peak.IsPositive() {
			if dd := tradingutils.ToFloat(peak.Sub(s.Equity).Div(peak)); dd > maxDD {
				maxDD = dd
			}
		}
	}
	if inDrawdown {
		closeSpan(len(equity) - 1)
	}
	return maxDD, maxDuration, maxTicks
}

// Returns converts an equity curve into simple per-sample returns
func Returns(equity []core.EquitySample) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev.IsZero() {
			continue
		}
		out = append(out, tradingutils.ToFloat(equity[i].Equity.Sub(prev).Div(prev)))
	}
	return out
}

// Sharpe returns (mean·P − riskFreeRate) / (stdev·√P) for P periods per year,
// 0 when stdev is 0 or undefined
func Sharpe(returns []float64, periodsPerYear, riskFreeRate float64) float64 {
	return annualizedRatio(mean(returns), stdev(returns), periodsPerYear, riskFreeRate)
}

// Sortino uses the stdev of negative returns only, 0 when that is 0 or undefined
func Sortino(returns []float64, periodsPerYear, riskFreeRate float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	return annualizedRatio(mean(returns), stdev(downside), periodsPerYear, riskFreeRate)
}

func annualizedRatio(m, sd, periodsPerYear, riskFreeRate float64) float64 {
	if sd == 0 {
		return 0
	}
	return (m*periodsPerYear - riskFreeRate) / (sd * math.Sqrt(periodsPerYear))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdev is the sample standard deviation; 0 with fewer than two values
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	sd := math.Sqrt(ss / float64(len(xs)-1))
	if math.IsNaN(sd) || sd < 1e-15 {
		return 0
	}
	return sd
}
