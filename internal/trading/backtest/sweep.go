package backtest

import (
	"context"
	"fmt"

	"orderflow/internal/config"
	"orderflow/internal/core"
	"orderflow/pkg/concurrency"
)

// SweepJob is one configuration to replay
type SweepJob struct {
	Name   string
	Config *config.Config
}

// SweepResult pairs a job with its outcome
type SweepResult struct {
	Name   string
	Result *Result
	Err    error
}

// Sweep replays the same dataset under several configurations on a worker pool.
// Every job gets its own Simulator and strategy instance; the dataset is only read.
// Results come back in job order. Per-job failures are reported in SweepResult.Err;
// the returned error is only set when ctx is cancelled.
func Sweep(ctx context.Context, ds *Dataset, jobs []SweepJob, workers int, logger core.ILogger) ([]SweepResult, error) {
	if err := ds.CheckOrdering(); err != nil {
		return nil, err
	}

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "sweep",
		MaxWorkers:  workers,
		MaxCapacity: len(jobs),
	}, logger)
	defer pool.Stop()

	results := make([]SweepResult, len(jobs))
	tasks := make([]func(context.Context) error, len(jobs))
	for i, job := range jobs {
		i, job := i, job
		tasks[i] = func(ctx context.Context) error {
			results[i] = runJob(ctx, ds, job, logger)
			return nil
		}
	}

	if err := pool.RunAll(ctx, tasks); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func runJob(ctx context.Context, ds *Dataset, job SweepJob, logger core.ILogger) SweepResult {
	out := SweepResult{Name: job.Name}
	if job.Config == nil {
		out.Err = fmt.Errorf("sweep job %q has no config", job.Name)
		return out
	}
	sim, err := NewSimulator(job.Config, logger.WithField("job", job.Name))
	if err != nil {
		out.Err = err
		return out
	}
	sim.DisableGauges()
	out.Result, out.Err = sim.Run(ctx, ds)
	return out
}
