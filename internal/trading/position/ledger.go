// Package position keeps the signed single-instrument position and its PnL
package position

import (
	"fmt"

	"orderflow/internal/core"

	"github.com/shopspring/decimal"
)

// FillResult describes how a fill changed the position
type FillResult struct {
	PrevSize  decimal.Decimal
	NewSize   decimal.Decimal
	ClosedQty decimal.Decimal
	// Realized is the gross PnL of the closed quantity, fees excluded
	Realized decimal.Decimal
	Fee      decimal.Decimal
	Opened   bool
	Closed   bool
	Flipped  bool
}

// Ledger is the simulated account for one instrument.
// It is exclusively owned by a simulator or live runner and not safe for concurrent use.
type Ledger struct {
	initial      decimal.Decimal
	size         decimal.Decimal
	avgEntry     decimal.Decimal
	realized     decimal.Decimal
	unrealized   decimal.Decimal
	fees         decimal.Decimal
	lastMark     decimal.Decimal
	fills        int
	tradedVolume decimal.Decimal
}

// NewLedger returns a flat ledger holding the given balance
func NewLedger(initialBalance decimal.Decimal) *Ledger {
	return &Ledger{initial: initialBalance}
}

// Size is the signed position, positive long
func (l *Ledger) Size() decimal.Decimal { return l.size }

// AvgEntryPrice is the volume weighted entry of the open position
func (l *Ledger) AvgEntryPrice() decimal.Decimal { return l.avgEntry }

// RealizedPnL is gross realized PnL
func (l *Ledger) RealizedPnL() decimal.Decimal { return l.realized }

// UnrealizedPnL is PnL of the open position at the last mark
func (l *Ledger) UnrealizedPnL() decimal.Decimal { return l.unrealized }

// FeesPaid is the cumulative fee total
func (l *Ledger) FeesPaid() decimal.Decimal { return l.fees }

// Fills returns the number of fills applied
func (l *Ledger) Fills() int { return l.fills }

// Volume returns the traded quantity across all fills
func (l *Ledger) Volume() decimal.Decimal { return l.tradedVolume }

// IsFlat reports whether no position is open
func (l *Ledger) IsFlat() bool { return l.size.IsZero() }

// Direction returns the side of the open position
func (l *Ledger) Direction() (core.Side, bool) {
	return core.SideFromSign(float64(l.size.Sign()))
}

// Equity returns initial balance + realized + unrealized - fees
func (l *Ledger) Equity() decimal.Decimal {
	return l.initial.Add(l.realized).Add(l.unrealized).Sub(l.fees)
}

// Balance returns initial balance + realized - fees
func (l *Ledger) Balance() decimal.Decimal {
	return l.initial.Add(l.realized).Sub(l.fees)
}

// ApplyFill books a fill of qty (positive) on side at price, charging fee
func (l *Ledger) ApplyFill(side core.Side, qty, price, fee decimal.Decimal) (FillResult, error) {
	if !side.Valid() {
		return FillResult{}, fmt.Errorf("unknown side %q", side)
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return FillResult{}, fmt.Errorf("fill needs positive qty and price, got %s @ %s", qty, price)
	}

	delta := qty
	if side == core.SideSell {
		delta = qty.Neg()
	}
	res := FillResult{PrevSize: l.size, Fee: fee}

	switch {
	case l.size.IsZero() || l.size.Sign() == delta.Sign():
		// open or add
		notional := l.avgEntry.Mul(l.size.Abs()).Add(price.Mul(qty))
		l.size = l.size.Add(delta)
		l.avgEntry = notional.Div(l.size.Abs())
		res.Opened = res.PrevSize.IsZero()

	default:
		// reduce, close or flip
		closing := decimal.Min(qty, l.size.Abs())
		dir := decimal.NewFromInt(int64(l.size.Sign()))
		res.ClosedQty = closing
		res.Realized = price.Sub(l.avgEntry).Mul(closing).Mul(dir)
		l.realized = l.realized.Add(res.Realized)

		l.size = l.size.Add(delta)
		switch {
		case l.size.IsZero():
			l.avgEntry = decimal.Zero
			res.Closed = true
		case l.size.Sign() != res.PrevSize.Sign():
			l.avgEntry = price
			res.Closed = true
			res.Flipped = true
		}
	}

	l.fees = l.fees.Add(fee)
	l.fills++
	l.tradedVolume = l.tradedVolume.Add(qty)
	res.NewSize = l.size
	l.MarkToMarket(price)
	return res, nil
}

// MarkToMarket revalues the open position at price
func (l *Ledger) MarkToMarket(price decimal.Decimal) {
	l.lastMark = price
	if l.size.IsZero() {
		l.unrealized = decimal.Zero
		return
	}
	l.unrealized = price.Sub(l.avgEntry).Mul(l.size)
}

// LastMark returns the price of the last revaluation
func (l *Ledger) LastMark() decimal.Decimal { return l.lastMark }

// UnrealizedReturn returns unrealized PnL as a fraction of entry notional
func (l *Ledger) UnrealizedReturn() decimal.Decimal {
	if l.size.IsZero() || l.avgEntry.IsZero() {
		return decimal.Zero
	}
	return l.unrealized.Div(l.avgEntry.Mul(l.size.Abs()))
}
