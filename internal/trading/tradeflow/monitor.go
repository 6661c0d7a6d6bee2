// Package tradeflow aggregates executed trades over a rolling time window
package tradeflow

import (
	"math"

	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// MonitorConfig configures a Monitor
type MonitorConfig struct {
	// Window is the look-back length in seconds
	Window float64
	// LargeTradeNotional marks a trade as large when price*size reaches it
	LargeTradeNotional float64
	// AggressiveLookback is the number of most recent trades inspected for aggression
	AggressiveLookback int
	// AggressiveMinTrades is the minimum sample before aggression can be flagged
	AggressiveMinTrades int
	// AggressiveRatio is the same-side share that counts as aggressive
	AggressiveRatio float64
}

// DefaultMonitorConfig returns a 60 second window with the usual aggression heuristics
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Window:              60,
		LargeTradeNotional:  50000,
		AggressiveLookback:  10,
		AggressiveMinTrades: 5,
		AggressiveRatio:     0.7,
	}
}

type midSample struct {
	ts  float64
	mid decimal.Decimal
}

// Monitor keeps a time-bounded FIFO of trades and mid-price samples.
// Event time drives eviction; the wall clock is never consulted.
// A Monitor is owned by a single strategy instance and is not safe for concurrent use.
type Monitor struct {
	cfg        MonitorConfig
	largeTrade decimal.Decimal

	trades []core.TradeEvent
	mids   []midSample
	now    float64

	buyVol, sellVol     decimal.Decimal
	buyValue, sellValue decimal.Decimal
	dropped             int
}

// NewMonitor validates cfg and returns an empty Monitor
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Window <= 0 {
		return nil, &apperrors.ConfigurationError{Field: "trade_flow_window", Value: cfg.Window, Message: "must be positive"}
	}
	if cfg.LargeTradeNotional < 0 {
		return nil, &apperrors.ConfigurationError{Field: "large_order_threshold", Value: cfg.LargeTradeNotional, Message: "must be >= 0"}
	}
	if cfg.AggressiveRatio < 0 || cfg.AggressiveRatio > 1 {
		return nil, &apperrors.ConfigurationError{Field: "aggressive_ratio", Value: cfg.AggressiveRatio, Message: "must be between 0 and 1"}
	}
	if cfg.AggressiveLookback <= 0 {
		cfg.AggressiveLookback = 10
	}
	if cfg.AggressiveMinTrades <= 0 {
		cfg.AggressiveMinTrades = 5
	}
	return &Monitor{
		cfg:        cfg,
		largeTrade: decimal.NewFromFloat(cfg.LargeTradeNotional),
	}, nil
}

// ValidateTrade rejects non-positive prices and sizes and unknown sides
func ValidateTrade(t core.TradeEvent) error {
	reason := ""
	switch {
	case !t.Price.IsPositive():
		reason = "non-positive price"
	case !t.Size.IsPositive():
		reason = "non-positive size"
	case !t.Side.Valid():
		reason = "unknown side " + string(t.Side)
	case math.IsNaN(t.Timestamp) || math.IsInf(t.Timestamp, 0):
		reason = "non-finite timestamp"
	}
	if reason == "" {
		return nil
	}
	return &apperrors.InvalidTradeError{Timestamp: t.Timestamp, TradeID: t.TradeID, Reason: reason}
}

// AddTrade appends a trade and evicts everything older than the window.
// Invalid trades are dropped and reported as InvalidTradeError.
func (m *Monitor) AddTrade(t core.TradeEvent) error {
	if err := ValidateTrade(t); err != nil {
		m.dropped++
		return err
	}
	m.trades = append(m.trades, t)
	if t.Side == core.SideBuy {
		m.buyVol = m.buyVol.Add(t.Size)
		m.buyValue = m.buyValue.Add(tradingutils.Notional(t.Price, t.Size))
	} else {
		m.sellVol = m.sellVol.Add(t.Size)
		m.sellValue = m.sellValue.Add(tradingutils.Notional(t.Price, t.Size))
	}
	m.advance(t.Timestamp)
	return nil
}

// ObserveMid records the mid price at ts for momentum
func (m *Monitor) ObserveMid(ts float64, mid decimal.Decimal) {
	m.mids = append(m.mids, midSample{ts: ts, mid: mid})
	m.advance(ts)
}

// Advance moves the window forward without adding data
func (m *Monitor) Advance(ts float64) {
	m.advance(ts)
}

func (m *Monitor) advance(ts float64) {
	if ts > m.now {
		m.now = ts
	}
	cutoff := m.now - m.cfg.Window

	i := 0
	for i < len(m.trades) && m.trades[i].Timestamp < cutoff {
		t := m.trades[i]
		if t.Side == core.SideBuy {
			m.buyVol = m.buyVol.Sub(t.Size)
			m.buyValue = m.buyValue.Sub(tradingutils.Notional(t.Price, t.Size))
		} else {
			m.sellVol = m.sellVol.Sub(t.Size)
			m.sellValue = m.sellValue.Sub(tradingutils.Notional(t.Price, t.Size))
		}
		i++
	}
	if i > 0 {
		m.trades = append(m.trades[:0], m.trades[i:]...)
	}

	j := 0
	for j < len(m.mids) && m.mids[j].ts < cutoff {
		j++
	}
	if j > 0 {
		m.mids = append(m.mids[:0], m.mids[j:]...)
	}
}

// Len returns the number of trades in the window
func (m *Monitor) Len() int {
	return len(m.trades)
}

// Dropped returns how many invalid trades have been rejected
func (m *Monitor) Dropped() int {
	return m.dropped
}

// TradeImbalance returns (buy - sell) / (buy + sell) volume, 0 without trades
func (m *Monitor) TradeImbalance() float64 {
	return tradingutils.Imbalance(m.buyVol, m.sellVol)
}

// Momentum returns the fractional mid-price change across the window, 0 with fewer than two samples
func (m *Monitor) Momentum() float64 {
	if len(m.mids) < 2 {
		return 0
	}
	return tradingutils.FractionalChange(m.mids[0].mid, m.mids[len(m.mids)-1].mid)
}

// BuySellRatio returns buy/sell volume; 1 when empty, +Inf when only buys
func (m *Monitor) BuySellRatio() float64 {
	if m.sellVol.IsZero() {
		if m.buyVol.IsPositive() {
			return math.Inf(1)
		}
		return 1
	}
	return tradingutils.ToFloat(m.buyVol.Div(m.sellVol))
}

// aggressive reports whether side dominates the most recent trades
func (m *Monitor) aggressive(side core.Side) bool {
	n := len(m.trades)
	if n > m.cfg.AggressiveLookback {
		n = m.cfg.AggressiveLookback
	}
	if n < m.cfg.AggressiveMinTrades {
		return false
	}
	count := 0
	for _, t := range m.trades[len(m.trades)-n:] {
		if t.Side == side {
			count++
		}
	}
	return float64(count)/float64(n) >= m.cfg.AggressiveRatio
}

// Metrics returns the full window summary
func (m *Monitor) Metrics() core.FlowMetrics {
	fm := core.FlowMetrics{
		TradeImbalance:    m.TradeImbalance(),
		Momentum:          m.Momentum(),
		BuyVolume:         m.buyVol,
		SellVolume:        m.sellVol,
		BuyValue:          m.buyValue,
		SellValue:         m.sellValue,
		BuySellRatio:      m.BuySellRatio(),
		TradeCount:        len(m.trades),
		AggressiveBuying:  m.aggressive(core.SideBuy),
		AggressiveSelling: m.aggressive(core.SideSell),
	}
	if m.largeTrade.IsPositive() {
		for _, t := range m.trades {
			v := tradingutils.Notional(t.Price, t.Size)
			if v.GreaterThanOrEqual(m.largeTrade) {
				fm.LargeTradeCount++
				fm.LargeTradeValue = fm.LargeTradeValue.Add(v)
			}
		}
	}
	return fm
}
