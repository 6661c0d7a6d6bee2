package backtest

import (
	"sort"

	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"
)

// Dataset is the recorded market data for one instrument
type Dataset struct {
	Symbol    string
	Snapshots []*core.OrderBookSnapshot
	Trades    []*core.TradeEvent
}

// Len returns the total number of records
func (d *Dataset) Len() int {
	return len(d.Snapshots) + len(d.Trades)
}

// CheckOrdering verifies both streams are non-decreasing in timestamp
func (d *Dataset) CheckOrdering() error {
	for i := 1; i < len(d.Snapshots); i++ {
		if d.Snapshots[i].Timestamp < d.Snapshots[i-1].Timestamp {
			return &apperrors.DataOrderingError{Stream: "orderbook", Index: i, Prev: d.Snapshots[i-1].Timestamp, Got: d.Snapshots[i].Timestamp}
		}
	}
	for i := 1; i < len(d.Trades); i++ {
		if d.Trades[i].Timestamp < d.Trades[i-1].Timestamp {
			return &apperrors.DataOrderingError{Stream: "trades", Index: i, Prev: d.Trades[i-1].Timestamp, Got: d.Trades[i].Timestamp}
		}
	}
	return nil
}

// Merge interleaves both streams by timestamp. On equal timestamps book
// snapshots come before trades. Each stream must already be ordered.
func (d *Dataset) Merge() []core.Tick {
	out := make([]core.Tick, 0, d.Len())
	i, j := 0, 0
	for i < len(d.Snapshots) || j < len(d.Trades) {
		switch {
		case j >= len(d.Trades):
			out = append(out, core.BookTick(d.Snapshots[i]))
			i++
		case i >= len(d.Snapshots):
			out = append(out, core.TradeTick(d.Trades[j]))
			j++
		case d.Snapshots[i].Timestamp <= d.Trades[j].Timestamp:
			out = append(out, core.BookTick(d.Snapshots[i]))
			i++
		default:
			out = append(out, core.TradeTick(d.Trades[j]))
			j++
		}
	}
	return out
}

// SortInPlace orders both streams by timestamp. Loaders use it for sources
// that carry no ordering guarantee; the simulator itself never reorders.
func (d *Dataset) SortInPlace() {
	sort.SliceStable(d.Snapshots, func(a, b int) bool { return d.Snapshots[a].Timestamp < d.Snapshots[b].Timestamp })
	sort.SliceStable(d.Trades, func(a, b int) bool { return d.Trades[a].Timestamp < d.Trades[b].Timestamp })
}

// Window returns a dataset restricted to start <= ts <= end. Zero bounds are open.
func (d *Dataset) Window(start, end float64) *Dataset {
	in := func(ts float64) bool {
		return (start == 0 || ts >= start) && (end == 0 || ts <= end)
	}
	out := &Dataset{Symbol: d.Symbol}
	for _, s := range d.Snapshots {
		if in(s.Timestamp) {
			out.Snapshots = append(out.Snapshots, s)
		}
	}
	for _, t := range d.Trades {
		if in(t.Timestamp) {
			out.Trades = append(out.Trades, t)
		}
	}
	return out
}
