package backtest

import (
	"fmt"

	"orderflow/internal/config"
	"orderflow/internal/core"

	"github.com/shopspring/decimal"
)

// FillModel decides the simulated execution price
type FillModel interface {
	Name() string
	Price(side core.Side, book core.BookMetrics) decimal.Decimal
}

// MidFill executes at the mid price
type MidFill struct{}

func (MidFill) Name() string { return config.FillModelMid }

func (MidFill) Price(_ core.Side, book core.BookMetrics) decimal.Decimal {
	return book.MidPrice
}

// TouchFill crosses the spread: buys at the best ask, sells at the best bid
type TouchFill struct{}

func (TouchFill) Name() string { return config.FillModelTouch }

func (TouchFill) Price(side core.Side, book core.BookMetrics) decimal.Decimal {
	if side == core.SideBuy {
		return book.BestAsk
	}
	return book.BestBid
}

// NewFillModel maps a config name onto a model
func NewFillModel(name string) (FillModel, error) {
	switch name {
	case "", config.FillModelMid:
		return MidFill{}, nil
	case config.FillModelTouch:
		return TouchFill{}, nil
	default:
		return nil, fmt.Errorf("unknown fill model %q", name)
	}
}
