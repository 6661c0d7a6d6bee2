// Package bootstrap loads configuration and logging and runs the long-lived
// components of a process under one signal-aware lifecycle
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"orderflow/internal/core"

	"golang.org/x/sync/errgroup"
)

// App holds the core dependencies of a process
type App struct {
	Cfg    *Config
	Logger core.ILogger
}

// NewApp loads configPath and initializes logging
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &App{Cfg: cfg, Logger: logger}, nil
}

// Runner is a component that runs until its context is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

// Run calls f
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run runs every runner until SIGINT or SIGTERM, or until one of them fails
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext runs every runner until ctx is done or one of them fails. The
// first failure cancels the others. Shutdown by ctx is not an error.
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, gctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application", "runners", len(runners))
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		a.Logger.Error("application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}
