package risk

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
)

const secondsPerDay = 86400.0

// DailyPnL accumulates realized PnL per UTC day of the event timestamp and
// tracks consecutive losing closes. Days roll over on event time, never the wall clock.
type DailyPnL struct {
	mu                sync.RWMutex
	day               int64
	realizedToday     decimal.Decimal
	realizedTotal     decimal.Decimal
	consecutiveLosses int
	maxConsecutive    int
}

// NewDailyPnL returns an empty tracker
func NewDailyPnL() *DailyPnL {
	return &DailyPnL{day: math.MinInt64}
}

// DayOf returns the UTC day index of a unix timestamp in seconds
func DayOf(ts float64) int64 {
	return int64(math.Floor(ts / secondsPerDay))
}

// Record adds realized PnL observed at ts
func (d *DailyPnL) Record(ts float64, pnl decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollLocked(ts)
	d.realizedToday = d.realizedToday.Add(pnl)
	d.realizedTotal = d.realizedTotal.Add(pnl)
}

// RecordClose updates the consecutive loss streak with the PnL of a finished round trip
func (d *DailyPnL) RecordClose(pnl decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pnl.IsNegative() {
		d.consecutiveLosses++
		if d.consecutiveLosses > d.maxConsecutive {
			d.maxConsecutive = d.consecutiveLosses
		}
	} else {
		d.consecutiveLosses = 0
	}
}

// RealizedToday returns realized PnL for the day containing ts
func (d *DailyPnL) RealizedToday(ts float64) decimal.Decimal {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if DayOf(ts) != d.day {
		return decimal.Zero
	}
	return d.realizedToday
}

// RealizedTotal returns realized PnL across all days
func (d *DailyPnL) RealizedTotal() decimal.Decimal {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.realizedTotal
}

// ConsecutiveLosses returns the current losing streak
func (d *DailyPnL) ConsecutiveLosses() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.consecutiveLosses
}

// MaxConsecutiveLosses returns the longest losing streak seen
func (d *DailyPnL) MaxConsecutiveLosses() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.maxConsecutive
}

// Reset clears all state
func (d *DailyPnL) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.day = math.MinInt64
	d.realizedToday = decimal.Zero
	d.realizedTotal = decimal.Zero
	d.consecutiveLosses = 0
	d.maxConsecutive = 0
}

func (d *DailyPnL) rollLocked(ts float64) {
	if day := DayOf(ts); day != d.day {
		d.day = day
		d.realizedToday = decimal.Zero
	}
}
