package core

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade, signal or position change
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buy, -1 for sell and 0 for an unknown side
func (s Side) Sign() int {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s is buy or sell
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// SideFromSign maps a signed value onto a side. Zero has no side.
func SideFromSign(v float64) (Side, bool) {
	switch {
	case v > 0:
		return SideBuy, true
	case v < 0:
		return SideSell, true
	default:
		return "", false
	}
}

// PriceLevel is one aggregated level of an order book
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBookSnapshot is one immutable state of the book.
// Bids are sorted descending, asks ascending.
type OrderBookSnapshot struct {
	Timestamp float64
	Bids      []PriceLevel
	Asks      []PriceLevel
}

// NewOrderBookSnapshot copies the given levels so later mutation by the caller
// cannot affect the snapshot.
func NewOrderBookSnapshot(ts float64, bids, asks []PriceLevel) *OrderBookSnapshot {
	b := make([]PriceLevel, len(bids))
	copy(b, bids)
	a := make([]PriceLevel, len(asks))
	copy(a, asks)
	return &OrderBookSnapshot{Timestamp: ts, Bids: b, Asks: a}
}

// BestBid returns the top bid, if any
func (s *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask, if any
func (s *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// TradeEvent is one executed trade on the venue
type TradeEvent struct {
	Timestamp float64
	Price     decimal.Decimal
	Size      decimal.Decimal
	Side      Side
	TradeID   string
}

// TickKind discriminates the payload of a Tick
type TickKind int

const (
	TickBook TickKind = iota
	TickTrade
)

func (k TickKind) String() string {
	if k == TickTrade {
		return "trade"
	}
	return "book"
}

// Tick is the unit of work of the signal pipeline: either a book snapshot or a trade
type Tick struct {
	Kind  TickKind
	Book  *OrderBookSnapshot
	Trade *TradeEvent
}

// BookTick wraps a snapshot
func BookTick(s *OrderBookSnapshot) Tick {
	return Tick{Kind: TickBook, Book: s}
}

// TradeTick wraps a trade
func TradeTick(t *TradeEvent) Tick {
	return Tick{Kind: TickTrade, Trade: t}
}

// Timestamp returns the event time of the payload
func (t Tick) Timestamp() float64 {
	if t.Kind == TickTrade && t.Trade != nil {
		return t.Trade.Timestamp
	}
	if t.Book != nil {
		return t.Book.Timestamp
	}
	return 0
}

// BookMetrics are derived from one snapshot and recomputed every book tick
type BookMetrics struct {
	Timestamp         float64
	Imbalance         float64
	WeightedImbalance float64
	BestBid           decimal.Decimal
	BestAsk           decimal.Decimal
	MidPrice          decimal.Decimal
	Spread            decimal.Decimal
	SpreadPct         float64
	Support           decimal.Decimal
	Resistance        decimal.Decimal
	BidLiquidity      decimal.Decimal
	AskLiquidity      decimal.Decimal
	LargeBids         []PriceLevel
	LargeAsks         []PriceLevel
}

// FlowMetrics summarize the rolling trade window
type FlowMetrics struct {
	TradeImbalance    float64
	Momentum          float64
	BuyVolume         decimal.Decimal
	SellVolume        decimal.Decimal
	BuyValue          decimal.Decimal
	SellValue         decimal.Decimal
	BuySellRatio      float64
	TradeCount        int
	LargeTradeCount   int
	LargeTradeValue   decimal.Decimal
	AggressiveBuying  bool
	AggressiveSelling bool
}

// SignalStatus tracks a signal through its lifecycle
type SignalStatus string

const (
	SignalGenerated SignalStatus = "generated"
	SignalConfirmed SignalStatus = "confirmed"
	SignalRejected  SignalStatus = "rejected"
	SignalExecuted  SignalStatus = "executed"
	SignalFailed    SignalStatus = "failed"
)

// Terminal reports whether no further transition is allowed
func (s SignalStatus) Terminal() bool {
	return s == SignalRejected || s == SignalExecuted || s == SignalFailed
}

// Signal is a directional trading decision
type Signal struct {
	ID           string
	Symbol       string
	Timestamp    float64
	Direction    Side
	Price        decimal.Decimal
	Strength     float64
	Reason       string
	Status       SignalStatus
	RejectReason string
}

// Confirm moves a generated signal to confirmed
func (s *Signal) Confirm() bool {
	if s.Status != SignalGenerated {
		return false
	}
	s.Status = SignalConfirmed
	return true
}

// Reject marks the signal rejected with the given reason
func (s *Signal) Reject(reason string) bool {
	if s.Status.Terminal() {
		return false
	}
	s.Status = SignalRejected
	s.RejectReason = reason
	return true
}

// MarkExecuted marks a confirmed signal as filled
func (s *Signal) MarkExecuted() bool {
	if s.Status != SignalConfirmed {
		return false
	}
	s.Status = SignalExecuted
	return true
}

// MarkFailed marks a confirmed signal whose execution did not go through
func (s *Signal) MarkFailed(reason string) bool {
	if s.Status != SignalConfirmed {
		return false
	}
	s.Status = SignalFailed
	s.RejectReason = reason
	return true
}

// Instruction is the only output the core hands to an execution collaborator
type Instruction struct {
	SignalID  string
	Symbol    string
	Direction Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	Timestamp float64
}

// ExitReason explains why a simulated round trip was closed
type ExitReason string

const (
	ExitSignalReversal ExitReason = "signal_reversal"
	ExitStopLoss       ExitReason = "stop_loss"
	ExitTakeProfit     ExitReason = "take_profit"
	ExitEndOfData      ExitReason = "end_of_data"
)

// TradeRecord is one closed round trip in a backtest
type TradeRecord struct {
	EntryTime  float64
	ExitTime   float64
	Direction  Side
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Size       decimal.Decimal
	PnL        decimal.Decimal
	ExitReason ExitReason
}

// HoldingTime returns the seconds between entry and exit
func (t TradeRecord) HoldingTime() float64 {
	return t.ExitTime - t.EntryTime
}

// EquitySample is one point of the equity curve
type EquitySample struct {
	Timestamp float64
	Equity    decimal.Decimal
}
