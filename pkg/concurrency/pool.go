// Package concurrency provides a bounded worker pool for independent jobs
// such as parameter sweeps over the backtest simulator
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"orderflow/internal/core"

	"github.com/alitto/pond"
)

// ErrPoolFull is returned by a non-blocking Submit when the queue is at capacity
var ErrPoolFull = errors.New("worker pool is full")

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // Submit fails instead of blocking when the queue is full
}

// WorkerPool wraps alitto/pond with a logger and defaults
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// NewWorkerPool creates a pool. Zero MaxWorkers means one worker per CPU.
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Second
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)
	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("worker panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{pool: pool, config: cfg, logger: log}
}

// Submit queues a task
func (wp *WorkerPool) Submit(task func()) error {
	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			wp.logger.Warn("task refused", "capacity", wp.config.MaxCapacity)
			return fmt.Errorf("%w: %s (capacity %d)", ErrPoolFull, wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}
	wp.pool.Submit(task)
	return nil
}

// RunAll runs every task and waits for them. The first error cancels the
// context handed to the tasks that have not finished yet and is returned.
func (wp *WorkerPool) RunAll(ctx context.Context, tasks []func(context.Context) error) error {
	group, gctx := wp.pool.GroupContext(ctx)
	for _, task := range tasks {
		task := task
		group.Submit(func() error {
			return task(gctx)
		})
	}
	return group.Wait()
}

// Stop waits for queued tasks and stops the workers
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats is a snapshot of the pool counters
type Stats struct {
	RunningWorkers int
	IdleWorkers    int
	Submitted      uint64
	Waiting        uint64
	Succeeded      uint64
	Failed         uint64
}

// Stats returns pool counters
func (wp *WorkerPool) Stats() Stats {
	return Stats{
		RunningWorkers: wp.pool.RunningWorkers(),
		IdleWorkers:    wp.pool.IdleWorkers(),
		Submitted:      wp.pool.SubmittedTasks(),
		Waiting:        wp.pool.WaitingTasks(),
		Succeeded:      wp.pool.SuccessfulTasks(),
		Failed:         wp.pool.FailedTasks(),
	}
}
