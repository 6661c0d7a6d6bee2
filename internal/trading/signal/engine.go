// Package signal scores book and flow metrics into directional signals and
// debounces them through a confirmation state machine
package signal

import (
	"fmt"
	"math"
	"strings"

	"orderflow/internal/config"
	"orderflow/internal/core"
	apperrors "orderflow/pkg/errors"
	"orderflow/pkg/tradingutils"

	"github.com/google/uuid"
)

// Scoring weights and activation thresholds
const (
	ImbalanceWeight         = 0.4
	WeightedImbalanceWeight = 0.3
	TradeFlowWeight         = 0.2
	TradeFlowActivation     = 0.3
	MomentumActivation      = 0.001
	MomentumScale           = 100.0
	MomentumCap             = 0.1
)

var signalNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("orderflow.signal"))

// EngineConfig configures an Engine
type EngineConfig struct {
	Symbol                  string
	ImbalanceThreshold      float64
	SignalStrengthThreshold float64
	ConfirmationTicks       int
	// DirectionPriority lists indicator names; the first contributing one with a non-zero sign sets direction
	DirectionPriority []string
}

// Score is the outcome of scoring one tick, before confirmation
type Score struct {
	Strength  float64
	Direction core.Side
	Candidate bool
	Reason    string
}

// Evaluation is the outcome of one Evaluate call
type Evaluation struct {
	Score  Score
	State  State
	Signal *core.Signal
}

// Engine owns the confirmation state for one instrument. Not safe for concurrent use.
type Engine struct {
	cfg    EngineConfig
	logger core.ILogger
	state  State
	seq    uint64

	candidates    int
	confirmations int
}

// NewEngine validates cfg and returns an Engine in the Idle state
func NewEngine(cfg EngineConfig, logger core.ILogger) (*Engine, error) {
	if cfg.ImbalanceThreshold < 0 || cfg.ImbalanceThreshold > 1 {
		return nil, &apperrors.ConfigurationError{Field: "imbalance_threshold", Value: cfg.ImbalanceThreshold, Message: "must be between 0 and 1"}
	}
	if cfg.SignalStrengthThreshold < 0 || cfg.SignalStrengthThreshold > 1 {
		return nil, &apperrors.ConfigurationError{Field: "signal_strength_threshold", Value: cfg.SignalStrengthThreshold, Message: "must be between 0 and 1"}
	}
	if cfg.ConfirmationTicks < 1 {
		return nil, &apperrors.ConfigurationError{Field: "confirmation_ticks", Value: cfg.ConfirmationTicks, Message: "must be >= 1"}
	}
	if len(cfg.DirectionPriority) == 0 {
		cfg.DirectionPriority = config.DefaultDirectionPriority()
	}
	for _, ind := range cfg.DirectionPriority {
		switch ind {
		case config.IndicatorImbalance, config.IndicatorWeightedImbalance, config.IndicatorTradeFlow, config.IndicatorMomentum:
		default:
			return nil, &apperrors.ConfigurationError{Field: "direction_priority", Value: ind, Message: "unknown indicator"}
		}
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.WithField("component", "signal_engine").WithField("symbol", cfg.Symbol),
		state:  Idle{},
	}, nil
}

// State returns the current confirmation state
func (e *Engine) State() State {
	return e.state
}

// Reset drops any pending confirmation
func (e *Engine) Reset() {
	e.state = Idle{}
}

// Counts returns how many candidates and confirmations have been seen
func (e *Engine) Counts() (candidates, confirmations int) {
	return e.candidates, e.confirmations
}

type indicator struct {
	name         string
	value        float64
	contribution float64
}

// Score computes strength, direction and candidacy. It does not touch state.
func (e *Engine) Score(book core.BookMetrics, flow core.FlowMetrics) Score {
	inds := []indicator{
		{config.IndicatorImbalance, book.Imbalance, ImbalanceWeight * math.Abs(book.Imbalance)},
		{config.IndicatorWeightedImbalance, book.WeightedImbalance, WeightedImbalanceWeight * math.Abs(book.WeightedImbalance)},
		{config.IndicatorTradeFlow, flow.TradeImbalance, 0},
		{config.IndicatorMomentum, flow.Momentum, 0},
	}
	if math.Abs(flow.TradeImbalance) > TradeFlowActivation {
		inds[2].contribution = TradeFlowWeight * math.Abs(flow.TradeImbalance)
	}
	if math.Abs(flow.Momentum) > MomentumActivation {
		inds[3].contribution = math.Min(math.Abs(flow.Momentum)*MomentumScale, MomentumCap)
	}

	var (
		strength float64
		reasons  []string
	)
	byName := make(map[string]indicator, len(inds))
	for _, ind := range inds {
		byName[ind.name] = ind
		if ind.contribution > 0 {
			strength += ind.contribution
			reasons = append(reasons, fmt.Sprintf("%s=%+.4f", ind.name, ind.value))
		}
	}
	strength = tradingutils.Clamp(strength, 0, 1)

	sc := Score{Strength: strength, Reason: strings.Join(reasons, "; ")}
	for _, name := range e.cfg.DirectionPriority {
		ind := byName[name]
		if ind.contribution <= 0 {
			continue
		}
		if side, ok := core.SideFromSign(ind.value); ok {
			sc.Direction = side
			break
		}
	}

	triggered := math.Abs(book.Imbalance) >= e.cfg.ImbalanceThreshold ||
		math.Abs(flow.TradeImbalance) > TradeFlowActivation ||
		math.Abs(flow.Momentum) > MomentumActivation
	sc.Candidate = triggered && sc.Direction != "" && strength >= e.cfg.SignalStrengthThreshold
	return sc
}

// Evaluate scores the tick and advances the confirmation state machine.
// Evaluation.Signal is non-nil only on the tick that confirms.
func (e *Engine) Evaluate(ts float64, book core.BookMetrics, flow core.FlowMetrics) Evaluation {
	sc := e.Score(book, flow)

	var candidate *core.Signal
	if sc.Candidate {
		e.candidates++
		e.seq++
		candidate = &core.Signal{
			ID:        uuid.NewSHA1(signalNamespace, []byte(fmt.Sprintf("%s|%d|%.9f", e.cfg.Symbol, e.seq, ts))).String(),
			Symbol:    e.cfg.Symbol,
			Timestamp: ts,
			Direction: sc.Direction,
			Price:     book.MidPrice,
			Strength:  sc.Strength,
			Reason:    sc.Reason,
			Status:    core.SignalGenerated,
		}
	}

	prev := e.state
	next, emitted := step(prev, candidate, e.cfg.ConfirmationTicks)
	e.state = next

	if p, ok := prev.(Pending); ok && candidate == nil {
		e.logger.Debug("pending signal reset", "direction", p.Direction, "count", p.Count, "ts", ts)
	}
	if emitted != nil {
		e.confirmations++
		e.logger.Info("signal confirmed",
			"id", emitted.ID,
			"direction", emitted.Direction,
			"strength", emitted.Strength,
			"price", emitted.Price.String(),
			"reason", emitted.Reason,
			"ts", ts)
	}
	return Evaluation{Score: sc, State: next, Signal: emitted}
}
