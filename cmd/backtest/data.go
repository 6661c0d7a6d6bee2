package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"orderflow/internal/config"
	"orderflow/internal/core"
	"orderflow/internal/marketdata"
	"orderflow/internal/report"
	"orderflow/internal/trading/backtest"
)

func loadDataset(opts options, symbol string) (*backtest.Dataset, error) {
	var (
		ds  *backtest.Dataset
		err error
	)
	switch {
	case opts.mock > 0:
		mc := marketdata.DefaultMockConfig()
		mc.Symbol = symbol
		mc.Samples = opts.mock
		ds, err = marketdata.GenerateMock(mc)
	case opts.data != "":
		ds, err = marketdata.LoadJSON(opts.data, symbol)
	case opts.orderbook != "":
		ds, err = marketdata.LoadCSV(opts.orderbook, opts.trades, symbol)
	default:
		return nil, errors.New("one of -data, -orderbook or -mock is required")
	}
	if err != nil {
		return nil, err
	}

	if opts.sortInput {
		ds.SortInPlace()
	}
	if opts.start > 0 || opts.end > 0 {
		ds = ds.Window(opts.start, opts.end)
		if ds.Len() == 0 {
			return nil, marketdata.ErrEmptyDataset
		}
	}
	return ds, nil
}

// parseThresholds reads a comma separated list of imbalance thresholds
func parseThresholds(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q: %w", part, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("no thresholds given")
	}
	return out, nil
}

func sweepJobs(base *config.Config, thresholds []float64) []backtest.SweepJob {
	jobs := make([]backtest.SweepJob, 0, len(thresholds))
	for _, th := range thresholds {
		cfg := *base
		cfg.Strategy.ImbalanceThreshold = th
		cfg.Strategy.DirectionPriority = append([]string(nil), base.Strategy.DirectionPriority...)
		jobs = append(jobs, backtest.SweepJob{
			Name:   fmt.Sprintf("imbalance=%g", th),
			Config: &cfg,
		})
	}
	return jobs
}

func runSweep(ctx context.Context, cfg *config.Config, ds *backtest.Dataset, list string, out io.Writer, logger core.ILogger) error {
	thresholds, err := parseThresholds(list)
	if err != nil {
		return err
	}
	results, err := backtest.Sweep(ctx, ds, sweepJobs(cfg, thresholds), cfg.Backtest.SweepWorkers, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%-20s %8s %8s %10s %10s %8s\n", "job", "trades", "signals", "return", "max_dd", "sharpe")
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(out, "%-20s error: %v\n", r.Name, r.Err)
			continue
		}
		m := report.Metrics(r.Result)
		fmt.Fprintf(out, "%-20s %8.0f %8.0f %9.2f%% %9.2f%% %8.3f\n",
			r.Name, m["total_trades"], m["signals_confirmed"], m["total_return"]*100, m["max_drawdown"]*100, m["sharpe_ratio"])
	}
	return nil
}
