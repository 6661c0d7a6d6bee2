// Package report renders backtest results as text and CSV and converts them
// into persisted run records
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"orderflow/internal/core"
	"orderflow/internal/risk"
	"orderflow/internal/trading/backtest"
	"orderflow/pkg/tradingutils"
)

const (
	rule         = "================================================================================"
	tradePreview = 10
	timeLayout   = "2006-01-02 15:04:05"
)

// WriteText writes the full human-readable report. generatedAt is printed in the header.
func WriteText(w io.Writer, res *backtest.Result, generatedAt time.Time) error {
	m := res.Report
	var b strings.Builder

	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line(rule)
	line("Order Flow Strategy Backtest Report: %s", res.Symbol)
	line(rule)
	line("Generated: %s", generatedAt.UTC().Format(timeLayout))
	if res.Aborted {
		line("Status: ABORTED (partial results, open position %s)", res.OpenPosition)
	}
	line("")

	line("[Balance]")
	line("Initial balance: %s", money(res.InitialBalance.StringFixed(2)))
	line("Final balance:   %s", money(res.FinalBalance.StringFixed(2)))
	line("Total PnL:       %s", money(res.FinalBalance.Sub(res.InitialBalance).StringFixed(2)))
	line("Fees paid:       %s", money(res.FeesPaid.StringFixed(2)))
	line("Total return:    %.2f%%", m.TotalReturn*100)
	line("")

	line("[Trades]")
	line("Total trades:    %d", m.TotalTrades)
	line("Winning trades:  %d", m.WinningTrades)
	line("Losing trades:   %d", m.LosingTrades)
	line("Win rate:        %.2f%%", m.WinRate*100)
	line("Average win:     %s", money(m.AvgWin.StringFixed(2)))
	line("Average loss:    %s", money(m.AvgLoss.StringFixed(2)))
	line("Largest win:     %s", money(m.LargestWin.StringFixed(2)))
	line("Largest loss:    %s", money(m.LargestLoss.StringFixed(2)))
	line("Profit factor:   %s", ratio(m.ProfitFactor))
	line("")

	line("[Risk]")
	line("Max drawdown:          %.2f%%", m.MaxDrawdown*100)
	line("Max drawdown duration: %.2f hours (%d samples)", m.MaxDrawdownDuration/3600, m.MaxDrawdownDurationTicks)
	line("Sharpe ratio:          %.2f", m.SharpeRatio)
	line("Sortino ratio:         %.2f", m.SortinoRatio)
	line("")

	line("[Other]")
	line("Average holding time:     %.2f minutes", m.AvgHoldingTime/60)
	line("Max consecutive wins:     %d", m.MaxConsecutiveWins)
	line("Max consecutive losses:   %d", m.MaxConsecutiveLosses)
	line("Ticks processed/skipped:  %d/%d", res.TicksProcessed, res.TicksSkipped)
	line("")

	line("[Signals]")
	line("Confirmed signals: %d", res.Confirmed)
	line("Executed signals:  %d", res.Executed)
	line("Rejected signals:  %d", res.Rejected)
	if res.Confirmed > 0 {
		line("Execution rate:    %.2f%%", float64(res.Executed)/float64(res.Confirmed)*100)
	}
	for _, reason := range sortedReasons(res.RejectionCounts) {
		line("  %-24s %d", reason, res.RejectionCounts[reason])
	}
	line("")

	if len(res.Trades) > 0 {
		line("[Trades (first %d)]", tradePreview)
		line("%-20s %-6s %-12s %-12s %-10s %-12s %s", "Entry", "Side", "Entry px", "Exit px", "Size", "PnL", "Exit")
		line(strings.Repeat("-", len(rule)))
		for i, t := range res.Trades {
			if i == tradePreview {
				line("... %d more trades", len(res.Trades)-tradePreview)
				break
			}
			line("%-20s %-6s %-12s %-12s %-10s %-12s %s",
				formatTime(t.EntryTime),
				strings.ToUpper(string(t.Direction)),
				t.EntryPrice.StringFixed(2),
				t.ExitPrice.StringFixed(2),
				t.Size.StringFixed(4),
				t.PnL.StringFixed(2),
				t.ExitReason)
		}
		line("")
	}
	line(rule)

	_, err := io.WriteString(w, b.String())
	return err
}

// Summary is the one-line digest of a run
func Summary(res *backtest.Result) string {
	m := res.Report
	return fmt.Sprintf("return=%.2f%% win_rate=%.2f%% max_drawdown=%.2f%% trades=%d profit_factor=%s",
		m.TotalReturn*100, m.WinRate*100, m.MaxDrawdown*100, m.TotalTrades, ratio(m.ProfitFactor))
}

// WriteTradesCSV writes one row per round trip
func WriteTradesCSV(w io.Writer, trades []core.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"entry_time", "exit_time", "entry_datetime", "direction", "entry_price", "exit_price", "size", "value", "pnl", "exit_reason"}); err != nil {
		return err
	}
	for _, t := range trades {
		if err := cw.Write([]string{
			formatFloat(t.EntryTime),
			formatFloat(t.ExitTime),
			formatTime(t.EntryTime),
			string(t.Direction),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.Size.String(),
			tradingutils.Notional(t.EntryPrice, t.Size).String(),
			t.PnL.String(),
			string(t.ExitReason),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes the equity curve as index,timestamp,equity
func WriteEquityCSV(w io.Writer, equity []core.EquitySample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "timestamp", "equity"}); err != nil {
		return err
	}
	for i, e := range equity {
		if err := cw.Write([]string{strconv.Itoa(i), formatFloat(e.Timestamp), e.Equity.String()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Metrics flattens the performance report for storage and sweep tables
func Metrics(res *backtest.Result) map[string]float64 {
	m := res.Report
	return map[string]float64{
		"total_trades":           float64(m.TotalTrades),
		"winning_trades":         float64(m.WinningTrades),
		"losing_trades":          float64(m.LosingTrades),
		"win_rate":               m.WinRate,
		"profit_factor":          m.ProfitFactor,
		"total_pnl":              tradingutils.ToFloat(m.TotalPnL),
		"total_return":           m.TotalReturn,
		"max_drawdown":           m.MaxDrawdown,
		"max_drawdown_duration":  m.MaxDrawdownDuration,
		"sharpe_ratio":           m.SharpeRatio,
		"sortino_ratio":          m.SortinoRatio,
		"avg_holding_time":       m.AvgHoldingTime,
		"max_consecutive_wins":   float64(m.MaxConsecutiveWins),
		"max_consecutive_losses": float64(m.MaxConsecutiveLosses),
		"signals_confirmed":      float64(res.Confirmed),
		"signals_executed":       float64(res.Executed),
		"signals_rejected":       float64(res.Rejected),
		"ticks_processed":        float64(res.TicksProcessed),
		"ticks_skipped":          float64(res.TicksSkipped),
		"fees_paid":              tradingutils.ToFloat(res.FeesPaid),
	}
}

// RunRecord converts a result into its persisted form
func RunRecord(runID string, startedAt time.Time, res *backtest.Result) core.RunRecord {
	return core.RunRecord{
		RunID:          runID,
		Symbol:         res.Symbol,
		StartedAt:      startedAt.Unix(),
		InitialBalance: res.InitialBalance.String(),
		FinalBalance:   res.FinalBalance.String(),
		Trades:         res.Trades,
		Equity:         res.Equity,
		Summary:        Metrics(res),
	}
}

func sortedReasons(counts map[risk.RejectReason]int) []risk.RejectReason {
	out := make([]risk.RejectReason, 0, len(counts))
	for r := range counts {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func money(s string) string {
	if strings.HasPrefix(s, "-") {
		return "-$" + s[1:]
	}
	return "$" + s
}

func ratio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(ts float64) string {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(timeLayout)
}
