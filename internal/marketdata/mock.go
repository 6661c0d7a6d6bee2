package marketdata

import (
	"fmt"
	"math/rand/v2"

	"orderflow/internal/core"
	"orderflow/internal/trading/backtest"

	"github.com/shopspring/decimal"
)

// MockConfig drives GenerateMock. The same config always yields the same dataset.
type MockConfig struct {
	Symbol           string
	StartPrice       decimal.Decimal
	Samples          int
	Interval         float64
	Volatility       float64
	StartTime        float64
	TradeProbability float64
	Seed             uint64
}

// DefaultMockConfig returns a one-sample-per-second random walk around 2000
func DefaultMockConfig() MockConfig {
	return MockConfig{
		Symbol:           "ETHUSDT",
		StartPrice:       decimal.NewFromInt(2000),
		Samples:          1000,
		Interval:         1.0,
		Volatility:       0.001,
		StartTime:        1_700_000_000,
		TradeProbability: 0.3,
		Seed:             1,
	}
}

const mockSpread = 0.0001

// GenerateMock builds a random-walk dataset: one top-of-book snapshot per
// interval with a 1bp spread, and an aggressive trade at the touch on a
// TradeProbability share of the samples
func GenerateMock(cfg MockConfig) (*backtest.Dataset, error) {
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("mock samples must be positive, got %d", cfg.Samples)
	}
	if !cfg.StartPrice.IsPositive() {
		return nil, fmt.Errorf("mock start price must be positive, got %s", cfg.StartPrice)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 1
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	uniform := func(lo, hi float64) float64 { return lo + rng.Float64()*(hi-lo) }

	ds := &backtest.Dataset{
		Symbol:    cfg.Symbol,
		Snapshots: make([]*core.OrderBookSnapshot, 0, cfg.Samples),
	}
	price := cfg.StartPrice
	for i := 0; i < cfg.Samples; i++ {
		ts := cfg.StartTime + float64(i)*cfg.Interval

		change := decimal.NewFromFloat(uniform(-cfg.Volatility, cfg.Volatility))
		price = price.Mul(decimal.NewFromInt(1).Add(change)).Round(8)

		halfSpread := price.Mul(decimal.NewFromFloat(mockSpread / 2)).Round(8)
		bid := price.Sub(halfSpread)
		ask := price.Add(halfSpread)

		ds.Snapshots = append(ds.Snapshots, &core.OrderBookSnapshot{
			Timestamp: ts,
			Bids:      []core.PriceLevel{{Price: bid, Size: decimal.NewFromFloat(uniform(10, 100)).Round(4)}},
			Asks:      []core.PriceLevel{{Price: ask, Size: decimal.NewFromFloat(uniform(10, 100)).Round(4)}},
		})

		if rng.Float64() < cfg.TradeProbability {
			side := core.SideSell
			tradePrice := bid
			if rng.Float64() > 0.5 {
				side = core.SideBuy
				tradePrice = ask
			}
			ds.Trades = append(ds.Trades, &core.TradeEvent{
				Timestamp: ts,
				Price:     tradePrice,
				Size:      decimal.NewFromFloat(uniform(0.01, 1.0)).Round(4),
				Side:      side,
				TradeID:   fmt.Sprintf("mock-%d", i),
			})
		}
	}
	return ds, nil
}
