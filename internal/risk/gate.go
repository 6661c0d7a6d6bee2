// Package risk enforces position, order-rate and daily-loss limits on confirmed signals
package risk

import (
	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"

	"github.com/shopspring/decimal"
)

// RejectReason names the check that refused a signal
type RejectReason string

const (
	ReasonMaxPosition RejectReason = "max_position_exceeded"
	ReasonRateLimited RejectReason = "rate_limited"
	ReasonDailyLoss   RejectReason = "daily_loss_limit_hit"
)

// GateConfig holds the limits. A zero MaxOrdersPerMinute disables rate limiting,
// a nil MaxDailyLoss disables the loss check.
type GateConfig struct {
	MaxPosition        decimal.Decimal
	MaxOrdersPerMinute int
	MaxDailyLoss       *decimal.Decimal
}

// Proposal is the position change a confirmed signal would cause
type Proposal struct {
	Signal *core.Signal
	Delta  decimal.Decimal
}

// PositionView is the caller's current exposure
type PositionView struct {
	Size          decimal.Decimal
	RealizedToday decimal.Decimal
}

// Decision is the gate outcome. A rejection is a normal result, not an error.
type Decision struct {
	Approved bool
	Reason   RejectReason
}

// Approve is the approved decision
var Approve = Decision{Approved: true}

// Gate is a stateless policy; the caller owns and records the order history
type Gate struct {
	cfg GateConfig
}

// NewGate validates cfg and returns a Gate
func NewGate(cfg GateConfig) (*Gate, error) {
	if !cfg.MaxPosition.IsPositive() {
		return nil, &apperrors.ConfigurationError{Field: "max_position", Value: cfg.MaxPosition.String(), Message: "must be positive"}
	}
	if cfg.MaxOrdersPerMinute < 0 {
		return nil, &apperrors.ConfigurationError{Field: "max_orders_per_minute", Value: cfg.MaxOrdersPerMinute, Message: "must be >= 0"}
	}
	if cfg.MaxDailyLoss != nil && !cfg.MaxDailyLoss.IsPositive() {
		return nil, &apperrors.ConfigurationError{Field: "max_daily_loss", Value: cfg.MaxDailyLoss.String(), Message: "must be positive when set"}
	}
	return &Gate{cfg: cfg}, nil
}

// Evaluate checks position, then rate, then daily loss. The first failure wins.
// It never mutates its inputs.
func (g *Gate) Evaluate(p Proposal, pos PositionView, history *OrderRateHistory, now float64) Decision {
	if pos.Size.Add(p.Delta).Abs().GreaterThan(g.cfg.MaxPosition) {
		return Decision{Reason: ReasonMaxPosition}
	}
	if g.cfg.MaxOrdersPerMinute > 0 && history != nil && history.CountSince(now) >= g.cfg.MaxOrdersPerMinute {
		return Decision{Reason: ReasonRateLimited}
	}
	if g.cfg.MaxDailyLoss != nil && pos.RealizedToday.LessThanOrEqual(g.cfg.MaxDailyLoss.Neg()) {
		return Decision{Reason: ReasonDailyLoss}
	}
	return Approve
}
