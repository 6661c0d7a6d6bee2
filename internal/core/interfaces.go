package core

import "context"

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IInstructionSink receives approved instructions from a live strategy runner.
// Implementations own delivery to the execution venue.
type IInstructionSink interface {
	Send(ctx context.Context, inst Instruction) error
	Close() error
}

// ITickSource delivers normalized ticks for one instrument.
// Ticks must be delivered in non-decreasing timestamp order per stream.
type ITickSource interface {
	Run(ctx context.Context, out chan<- Tick) error
}

// IResultStore persists finished backtest runs
type IResultStore interface {
	SaveRun(ctx context.Context, run RunRecord) error
	LoadRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context) ([]RunSummary, error)
	Close() error
}

// RunRecord is a persisted backtest result
type RunRecord struct {
	RunID          string
	Symbol         string
	StartedAt      int64
	InitialBalance string
	FinalBalance   string
	Trades         []TradeRecord
	Equity         []EquitySample
	Summary        map[string]float64
}

// RunSummary is the listing view of a persisted run
type RunSummary struct {
	RunID        string
	Symbol       string
	StartedAt    int64
	FinalBalance string
	TradeCount   int
}
