package tradingutils

import (
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// MidPrice returns the average of best bid and best ask
func MidPrice(bestBid, bestAsk decimal.Decimal) decimal.Decimal {
	return bestBid.Add(bestAsk).Div(two)
}

// Imbalance returns (a - b) / (a + b) as a float in [-1, 1], or 0 when both are zero
func Imbalance(a, b decimal.Decimal) float64 {
	total := a.Add(b)
	if total.IsZero() {
		return 0
	}
	f, _ := a.Sub(b).Div(total).Float64()
	return Clamp(f, -1, 1)
}

// FractionalChange returns (now - start) / start, or 0 when start is zero
func FractionalChange(start, now decimal.Decimal) float64 {
	if start.IsZero() {
		return 0
	}
	f, _ := now.Sub(start).Div(start).Float64()
	return f
}

// Notional returns price * size
func Notional(price, size decimal.Decimal) decimal.Decimal {
	return price.Mul(size)
}

// CalculateFee returns the fee charged on a fill of qty at price
func CalculateFee(price, qty, feeRate decimal.Decimal) decimal.Decimal {
	return price.Mul(qty.Abs()).Mul(feeRate)
}

// CalculateNetProfit computes round trip profit per unit after trading fees
func CalculateNetProfit(buyPrice, sellPrice, buyFeeRate, sellFeeRate decimal.Decimal) decimal.Decimal {
	grossProfit := sellPrice.Sub(buyPrice)
	buyFee := buyPrice.Mul(buyFeeRate)
	sellFee := sellPrice.Mul(sellFeeRate)
	return grossProfit.Sub(buyFee).Sub(sellFee)
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ToFloat converts a decimal for metrics and ratio math
func ToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
