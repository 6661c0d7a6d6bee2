package risk

// RateWindow is the trailing order-rate window in seconds
const RateWindow = 60.0

// OrderRateHistory records the timestamps of approved order attempts.
// Only attempts inside the trailing window are retained.
type OrderRateHistory struct {
	window float64
	times  []float64
}

// NewOrderRateHistory returns a history with the standard 60 second window
func NewOrderRateHistory() *OrderRateHistory {
	return &OrderRateHistory{window: RateWindow}
}

// Record appends an attempt at ts
func (h *OrderRateHistory) Record(ts float64) {
	h.times = append(h.times, ts)
	h.prune(ts)
}

// CountSince returns attempts t with now-window < t <= now
func (h *OrderRateHistory) CountSince(now float64) int {
	cutoff := now - h.window
	n := 0
	for _, t := range h.times {
		if t > cutoff && t <= now {
			n++
		}
	}
	return n
}

// Len returns the number of retained attempts
func (h *OrderRateHistory) Len() int {
	return len(h.times)
}

func (h *OrderRateHistory) prune(now float64) {
	cutoff := now - h.window
	i := 0
	for i < len(h.times) && h.times[i] <= cutoff {
		i++
	}
	if i > 0 {
		h.times = append(h.times[:0], h.times[i:]...)
	}
}
