package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderflow/internal/bootstrap"
	"orderflow/internal/config"
	"orderflow/internal/core"
	"orderflow/internal/infrastructure/metrics"
	"orderflow/internal/report"
	"orderflow/internal/store"
	"orderflow/internal/trading/backtest"
	"orderflow/pkg/telemetry"

	"github.com/google/uuid"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

type options struct {
	configPath  string
	data        string
	orderbook   string
	trades      string
	mock        int
	symbol      string
	sortInput   bool
	start       float64
	end         float64
	fillModel   string
	tradesOut   string
	equityOut   string
	dbPath      string
	noStore     bool
	listRuns    bool
	sweep       string
	showVersion bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to configuration file (defaults when empty)")
	flag.StringVar(&o.data, "data", "", "JSON dataset with orderbook and trades arrays")
	flag.StringVar(&o.orderbook, "orderbook", "", "CSV order book snapshots")
	flag.StringVar(&o.trades, "trades", "", "CSV trades (optional with -orderbook)")
	flag.IntVar(&o.mock, "mock", 0, "Generate this many mock snapshots instead of loading data")
	flag.StringVar(&o.symbol, "symbol", "", "Instrument symbol (overrides config)")
	flag.BoolVar(&o.sortInput, "sort", false, "Sort input by timestamp instead of rejecting unordered data")
	flag.Float64Var(&o.start, "start", 0, "Replay only records at or after this unix timestamp")
	flag.Float64Var(&o.end, "end", 0, "Replay only records at or before this unix timestamp")
	flag.StringVar(&o.fillModel, "fill", "", "Fill model: mid or touch (overrides config)")
	flag.StringVar(&o.tradesOut, "trades-out", "", "Write the trade log as CSV")
	flag.StringVar(&o.equityOut, "equity-out", "", "Write the equity curve as CSV")
	flag.StringVar(&o.dbPath, "db", "", "SQLite result database (overrides config)")
	flag.BoolVar(&o.noStore, "no-store", false, "Do not persist the run")
	flag.BoolVar(&o.listRuns, "list", false, "List stored runs and exit")
	flag.StringVar(&o.sweep, "sweep", "", "Comma separated imbalance thresholds to compare")
	flag.BoolVar(&o.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()
	if opts.showVersion {
		fmt.Printf("backtest version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "backtest failed: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := bootstrap.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.symbol != "" {
		cfg.Strategy.Symbol = opts.symbol
	}
	if opts.fillModel != "" {
		cfg.Backtest.FillModel = opts.fillModel
	}
	if opts.dbPath != "" {
		cfg.Storage.SQLitePath = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config, opts options) (core.IResultStore, error) {
	if opts.noStore || cfg.Storage.SQLitePath == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.Storage.SQLitePath)
}

func run(opts options, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := bootstrap.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := openStore(cfg, opts)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer results.Close()

	if opts.listRuns {
		return listRuns(ctx, results, out)
	}

	if cfg.Telemetry.EnableMetrics {
		tel, err := telemetry.Setup("orderflow-backtest", telemetry.WithExportWriter(io.Discard))
		if err != nil {
			logger.Warn("failed to initialize telemetry", "error", err)
		} else {
			defer tel.Shutdown(context.Background())
			srv := metrics.NewServer(metrics.Port(cfg.Telemetry.MetricsPort), nil, nil, logger)
			if err := srv.Start(); err != nil {
				logger.Warn("metrics server not started", "error", err)
			} else {
				defer srv.Stop(context.Background())
			}
		}
	}

	ds, err := loadDataset(opts, cfg.Strategy.Symbol)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	logger.Info("dataset loaded", "snapshots", len(ds.Snapshots), "trades", len(ds.Trades))

	if opts.sweep != "" {
		return runSweep(ctx, cfg, ds, opts.sweep, out, logger)
	}

	sim, err := backtest.NewSimulator(cfg, logger)
	if err != nil {
		return err
	}
	startedAt := time.Now()
	res, err := sim.Run(ctx, ds)
	if res == nil {
		return err
	}
	if err != nil {
		logger.Warn("run aborted, reporting partial result", "error", err)
	}

	if werr := report.WriteText(out, res, time.Now()); werr != nil {
		return werr
	}
	if werr := exportCSV(opts, res); werr != nil {
		return werr
	}

	runID := uuid.New().String()
	if serr := results.SaveRun(ctx, report.RunRecord(runID, startedAt, res)); serr != nil {
		logger.Error("failed to store run", "run_id", runID, "error", serr)
	} else {
		fmt.Fprintf(out, "\nrun %s stored\n", runID)
	}
	fmt.Fprintln(out, report.Summary(res))
	return err
}

func exportCSV(opts options, res *backtest.Result) error {
	if opts.tradesOut != "" {
		if err := writeFile(opts.tradesOut, func(w io.Writer) error { return report.WriteTradesCSV(w, res.Trades) }); err != nil {
			return fmt.Errorf("trades export: %w", err)
		}
	}
	if opts.equityOut != "" {
		if err := writeFile(opts.equityOut, func(w io.Writer) error { return report.WriteEquityCSV(w, res.Equity) }); err != nil {
			return fmt.Errorf("equity export: %w", err)
		}
	}
	return nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func listRuns(ctx context.Context, results core.IResultStore, out io.Writer) error {
	runs, err := results.ListRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%s  %-10s  %s  trades=%d  final=%s\n",
			r.RunID, r.Symbol, time.Unix(r.StartedAt, 0).UTC().Format(time.RFC3339), r.TradeCount, r.FinalBalance)
	}
	return nil
}
