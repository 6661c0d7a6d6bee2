package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"orderflow/internal/bootstrap"
	"orderflow/internal/core"
	"orderflow/internal/feed"
	"orderflow/internal/infrastructure/health"
	"orderflow/internal/infrastructure/metrics"
	"orderflow/internal/sink"
	"orderflow/internal/trading/live"
	"orderflow/pkg/telemetry"

	"github.com/shopspring/decimal"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/orderflow.yaml", "Path to configuration file")
	staleAfter := flag.Duration("stale-after", 30*time.Second, "Report unhealthy when no tick arrived for this long")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("live version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	app, err := bootstrap.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	if err := bootstrap.CheckLive(app.Cfg); err != nil {
		app.Logger.Fatal("invalid live configuration", "error", err)
	}

	if err := run(app, *staleAfter); err != nil {
		app.Logger.Error("live runner exited", "error", err)
		os.Exit(1)
	}
}

func run(app *bootstrap.App, staleAfter time.Duration) error {
	cfg := app.Cfg
	logger := app.Logger
	logger.Info("starting live pipeline", "version", version, "feed", cfg.Feed.URL, "sink", cfg.Sink.Type)

	tel, err := telemetry.Setup("orderflow-live")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	setupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	out, err := sink.New(setupCtx, cfg.Sink, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	defer out.Close()

	runner, err := live.NewRunner(cfg.Strategy, decimal.NewFromFloat(cfg.Backtest.InitialBalance), out, logger)
	if err != nil {
		return fmt.Errorf("runner: %w", err)
	}
	source := feed.NewWebSocketSource(cfg.Feed, cfg.Strategy.Symbol, logger)
	ticks := make(chan core.Tick, cfg.Feed.QueueSize)

	hm := health.NewManager(logger)
	hm.Register("runner", func() error { return runner.CheckFresh(staleAfter) })

	runners := []bootstrap.Runner{
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			err := source.Run(ctx, ticks)
			received, malformed := source.Stats()
			logger.Info("feed stopped", "received", received, "malformed", malformed)
			return err
		}),
		bootstrap.RunnerFunc(func(ctx context.Context) error {
			err := runner.Run(ctx, ticks)
			st := runner.Status()
			logger.Info("runner stopped",
				"ticks", st.Ticks,
				"sent", st.Sent,
				"send_failures", st.SendFailures,
				"position", st.Position.String(),
				"equity", st.Equity.String())
			return err
		}),
	}
	if cfg.Telemetry.EnableMetrics {
		runners = append(runners, metrics.NewServer(metrics.Port(cfg.Telemetry.MetricsPort), nil, hm, logger))
	}
	return app.Run(runners...)
}
