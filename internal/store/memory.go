package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"
)

// MemoryStore keeps runs in process. Used by tests and when no database path is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]core.RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]core.RunRecord)}
}

func (s *MemoryStore) SaveRun(_ context.Context, run core.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = clone(run)
	return nil
}

func (s *MemoryStore) LoadRun(_ context.Context, runID string) (*core.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRunNotFound, runID)
	}
	out := clone(run)
	return &out, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]core.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, core.RunSummary{
			RunID:        r.RunID,
			Symbol:       r.Symbol,
			StartedAt:    r.StartedAt,
			FinalBalance: r.FinalBalance,
			TradeCount:   len(r.Trades),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt > out[j].StartedAt
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(r core.RunRecord) core.RunRecord {
	r.Trades = append([]core.TradeRecord(nil), r.Trades...)
	r.Equity = append([]core.EquitySample(nil), r.Equity...)
	summary := make(map[string]float64, len(r.Summary))
	for k, v := range r.Summary {
		summary[k] = v
	}
	r.Summary = summary
	return r
}
