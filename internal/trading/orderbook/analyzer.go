// Package orderbook derives depth imbalance and level statistics from book snapshots
package orderbook

import (
	"fmt"

	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// AnalyzerConfig configures an Analyzer
type AnalyzerConfig struct {
	// Depth is the number of levels per side summed for imbalance
	Depth int
	// WeightDecay is k in the per-level weight 1/(1 + k*d), d = |price-mid|/mid
	WeightDecay float64
	// LiquidityRangePct is the band around mid, in percent, counted as near-touch liquidity
	LiquidityRangePct float64
	// LargeOrderNotional marks a level as a large resting order when price*size reaches it
	LargeOrderNotional float64
}

// Analyzer computes BookMetrics. It keeps only the last valid metrics, never snapshots.
type Analyzer struct {
	depth        int
	decay        decimal.Decimal
	rangeFrac    decimal.Decimal
	largeOrder   decimal.Decimal
	last         core.BookMetrics
	hasLast      bool
	invalidCount int
}

// NewAnalyzer validates cfg and returns an Analyzer
func NewAnalyzer(cfg AnalyzerConfig) (*Analyzer, error) {
	if cfg.Depth < 1 {
		return nil, &apperrors.ConfigurationError{Field: "orderbook_depth", Value: cfg.Depth, Message: "must be >= 1"}
	}
	if cfg.WeightDecay < 0 {
		return nil, &apperrors.ConfigurationError{Field: "weight_decay", Value: cfg.WeightDecay, Message: "must be >= 0"}
	}
	if cfg.LiquidityRangePct < 0 {
		return nil, &apperrors.ConfigurationError{Field: "liquidity_range_pct", Value: cfg.LiquidityRangePct, Message: "must be >= 0"}
	}
	if cfg.LargeOrderNotional < 0 {
		return nil, &apperrors.ConfigurationError{Field: "min_order_size", Value: cfg.LargeOrderNotional, Message: "must be >= 0"}
	}
	return &Analyzer{
		depth:      cfg.Depth,
		decay:      decimal.NewFromFloat(cfg.WeightDecay),
		rangeFrac:  decimal.NewFromFloat(cfg.LiquidityRangePct).Div(hundred),
		largeOrder: decimal.NewFromFloat(cfg.LargeOrderNotional),
	}, nil
}

// Analyze computes metrics for a snapshot. On an invalid book it returns an
// InvalidBookError and the previously held metrics stay in place.
func (a *Analyzer) Analyze(s *core.OrderBookSnapshot) (core.BookMetrics, error) {
	if err := Validate(s); err != nil {
		a.invalidCount++
		return a.last, err
	}

	bestBid, bestAsk := s.Bids[0].Price, s.Asks[0].Price
	mid := tradingutils.MidPrice(bestBid, bestAsk)
	spread := bestAsk.Sub(bestBid)

	bids := topN(s.Bids, a.depth)
	asks := topN(s.Asks, a.depth)

	m := core.BookMetrics{
		Timestamp:         s.Timestamp,
		Imbalance:         tradingutils.Imbalance(sumSize(bids), sumSize(asks)),
		WeightedImbalance: tradingutils.Imbalance(a.weightedSize(bids, mid), a.weightedSize(asks, mid)),
		BestBid:           bestBid,
		BestAsk:           bestAsk,
		MidPrice:          mid,
		Spread:            spread,
		SpreadPct:         tradingutils.ToFloat(spread.Div(mid).Mul(hundred)),
	}
	m.Support = largestLevel(s.Bids).Price
	m.Resistance = largestLevel(s.Asks).Price

	band := mid.Mul(a.rangeFrac)
	for _, l := range s.Bids {
		if l.Price.GreaterThanOrEqual(mid.Sub(band)) {
			m.BidLiquidity = m.BidLiquidity.Add(l.Size)
		}
	}
	for _, l := range s.Asks {
		if l.Price.LessThanOrEqual(mid.Add(band)) {
			m.AskLiquidity = m.AskLiquidity.Add(l.Size)
		}
	}

	if a.largeOrder.IsPositive() {
		m.LargeBids = a.largeLevels(s.Bids)
		m.LargeAsks = a.largeLevels(s.Asks)
	}

	a.last = m
	a.hasLast = true
	return m, nil
}

// Last returns the most recent valid metrics
func (a *Analyzer) Last() (core.BookMetrics, bool) {
	return a.last, a.hasLast
}

// InvalidCount returns how many snapshots have been rejected
func (a *Analyzer) InvalidCount() int {
	return a.invalidCount
}

// Validate rejects books that cannot yield a mid price or whose levels are malformed
func Validate(s *core.OrderBookSnapshot) error {
	if s == nil {
		return &apperrors.InvalidBookError{Reason: "nil snapshot"}
	}
	invalid := func(format string, args ...interface{}) error {
		return &apperrors.InvalidBookError{Timestamp: s.Timestamp, Reason: fmt.Sprintf(format, args...)}
	}
	switch {
	case len(s.Bids) == 0 && len(s.Asks) == 0:
		return invalid("empty book")
	case len(s.Bids) == 0:
		return invalid("no bids")
	case len(s.Asks) == 0:
		return invalid("no asks")
	}
	if err := checkSide(s.Bids, true); err != "" {
		return invalid("bids: %s", err)
	}
	if err := checkSide(s.Asks, false); err != "" {
		return invalid("asks: %s", err)
	}
	if s.Bids[0].Price.GreaterThanOrEqual(s.Asks[0].Price) {
		return invalid("crossed book: best bid %s >= best ask %s", s.Bids[0].Price, s.Asks[0].Price)
	}
	return nil
}

func checkSide(levels []core.PriceLevel, descending bool) string {
	for i, l := range levels {
		if !l.Price.IsPositive() {
			return fmt.Sprintf("non-positive price at level %d", i)
		}
		if l.Size.IsNegative() {
			return fmt.Sprintf("negative size at level %d", i)
		}
		if i == 0 {
			continue
		}
		prev := levels[i-1].Price
		if (descending && l.Price.GreaterThan(prev)) || (!descending && l.Price.LessThan(prev)) {
			return fmt.Sprintf("levels not sorted best-first at level %d", i)
		}
	}
	return ""
}

func (a *Analyzer) weightedSize(levels []core.PriceLevel, mid decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		dist := l.Price.Sub(mid).Abs().Div(mid)
		weight := one.Div(one.Add(a.decay.Mul(dist)))
		total = total.Add(l.Size.Mul(weight))
	}
	return total
}

func (a *Analyzer) largeLevels(levels []core.PriceLevel) []core.PriceLevel {
	var out []core.PriceLevel
	for _, l := range levels {
		if tradingutils.Notional(l.Price, l.Size).GreaterThanOrEqual(a.largeOrder) {
			out = append(out, l)
		}
	}
	return out
}

func topN(levels []core.PriceLevel, n int) []core.PriceLevel {
	if len(levels) > n {
		return levels[:n]
	}
	return levels
}

func sumSize(levels []core.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.Size)
	}
	return total
}

// largestLevel returns the first level with the maximum size
func largestLevel(levels []core.PriceLevel) core.PriceLevel {
	var best core.PriceLevel
	for _, l := range levels {
		if l.Size.GreaterThan(best.Size) {
			best = l
		}
	}
	return best
}
