// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	apperrors "orderflow/pkg/errors"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Indicator names accepted in StrategyConfig.DirectionPriority
const (
	IndicatorImbalance         = "imbalance"
	IndicatorWeightedImbalance = "weighted_imbalance"
	IndicatorTradeFlow         = "trade_flow"
	IndicatorMomentum          = "momentum"
)

// Fill models for the backtest simulator
const (
	FillModelMid   = "mid"
	FillModelTouch = "touch"
)

// Sink types for the live runner
const (
	SinkLog   = "log"
	SinkRedis = "redis"
)

// Config represents the complete configuration structure
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
	Feed      FeedConfig      `yaml:"feed"`
	Sink      SinkConfig      `yaml:"sink"`
}

// SystemConfig contains process-level settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// StrategyConfig holds the signal pipeline parameters. Shared read-only between instances.
type StrategyConfig struct {
	Symbol                  string   `yaml:"symbol"`
	OrderbookDepth          int      `yaml:"orderbook_depth"`
	ImbalanceThreshold      float64  `yaml:"imbalance_threshold"`
	SignalStrengthThreshold float64  `yaml:"signal_strength_threshold"`
	ConfirmationTicks       int      `yaml:"confirmation_ticks"`
	MinOrderSize            float64  `yaml:"min_order_size"`
	LargeOrderThreshold     float64  `yaml:"large_order_threshold"`
	TradeFlowWindow         float64  `yaml:"trade_flow_window"`
	WeightDecay             float64  `yaml:"weight_decay"`
	LiquidityRangePct       float64  `yaml:"liquidity_range_pct"`
	DirectionPriority       []string `yaml:"direction_priority"`
	PositionSize            float64  `yaml:"position_size"`
	MaxPosition             float64  `yaml:"max_position"`
	StopLossPct             float64  `yaml:"stop_loss_pct"`
	TakeProfitPct           float64  `yaml:"take_profit_pct"`
	MaxOrdersPerMinute      int      `yaml:"max_orders_per_minute"`
	MaxDailyLoss            *float64 `yaml:"max_daily_loss"`
	FeeRate                 float64  `yaml:"fee_rate"`
	UpdateInterval          float64  `yaml:"update_interval"`
}

// BacktestConfig contains simulator settings
type BacktestConfig struct {
	InitialBalance float64 `yaml:"initial_balance"`
	FillModel      string  `yaml:"fill_model"`
	PeriodsPerYear float64 `yaml:"periods_per_year"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	ProgressEvery  int     `yaml:"progress_every"`
	SweepWorkers   int     `yaml:"sweep_workers"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// StorageConfig locates the result store
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// FeedConfig configures the live websocket market data feed
type FeedConfig struct {
	URL                 string `yaml:"url"`
	ReconnectAttempts   int    `yaml:"reconnect_attempts"`
	ReconnectDelayMs    int    `yaml:"reconnect_delay_ms"`
	PingIntervalSeconds int    `yaml:"ping_interval_seconds"`
	QueueSize           int    `yaml:"queue_size"`
}

// SinkConfig configures where live instructions go
type SinkConfig struct {
	Type          string `yaml:"type"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Channel       string `yaml:"channel"`
	Stream        string `yaml:"stream"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

func (e ValidationError) Unwrap() error { return apperrors.ErrConfiguration }

// ValidationErrors aggregates every failed check of a Validate call
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v))
	for _, e := range v {
		msgs = append(msgs, e.Error())
	}
	return "configuration validation failed:\n" + strings.Join(msgs, "\n")
}

func (v ValidationErrors) Unwrap() error { return apperrors.ErrConfiguration }

// LoadConfig reads a YAML file over DefaultConfig with environment variable expansion.
// A .env file in the working directory, if present, is loaded first; variables
// already set in the environment win.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	_ = godotenv.Load()
	return Parse(data)
}

// Parse decodes YAML content over DefaultConfig and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs ValidationErrors
	errs = append(errs, c.Strategy.validate()...)
	errs = append(errs, c.Backtest.validate()...)
	errs = append(errs, c.Sink.validate()...)

	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort <= 0 || c.Telemetry.MetricsPort > 65535) {
		errs = append(errs, ValidationError{"telemetry.metrics_port", c.Telemetry.MetricsPort, "must be a valid port"})
	}
	if c.Feed.QueueSize < 0 {
		errs = append(errs, ValidationError{"feed.queue_size", c.Feed.QueueSize, "must be >= 0"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks only the strategy section, used by components built outside of a full Config
func (s StrategyConfig) Validate() error {
	if errs := s.validate(); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	return nil
}

func (s StrategyConfig) validate() []ValidationError {
	var errs []ValidationError
	unit := func(field string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, ValidationError{field, v, "must be between 0 and 1"})
		}
	}
	positive := func(field string, v float64) {
		if v <= 0 {
			errs = append(errs, ValidationError{field, v, "must be positive"})
		}
	}
	nonNegative := func(field string, v float64) {
		if v < 0 {
			errs = append(errs, ValidationError{field, v, "must be >= 0"})
		}
	}

	unit("strategy.imbalance_threshold", s.ImbalanceThreshold)
	unit("strategy.signal_strength_threshold", s.SignalStrengthThreshold)
	unit("strategy.fee_rate", s.FeeRate)
	if s.ConfirmationTicks < 1 {
		errs = append(errs, ValidationError{"strategy.confirmation_ticks", s.ConfirmationTicks, "must be >= 1"})
	}
	if s.OrderbookDepth < 1 {
		errs = append(errs, ValidationError{"strategy.orderbook_depth", s.OrderbookDepth, "must be >= 1"})
	}
	positive("strategy.trade_flow_window", s.TradeFlowWindow)
	positive("strategy.position_size", s.PositionSize)
	positive("strategy.max_position", s.MaxPosition)
	nonNegative("strategy.min_order_size", s.MinOrderSize)
	nonNegative("strategy.large_order_threshold", s.LargeOrderThreshold)
	nonNegative("strategy.weight_decay", s.WeightDecay)
	nonNegative("strategy.liquidity_range_pct", s.LiquidityRangePct)
	nonNegative("strategy.stop_loss_pct", s.StopLossPct)
	nonNegative("strategy.take_profit_pct", s.TakeProfitPct)
	nonNegative("strategy.update_interval", s.UpdateInterval)
	if s.MaxOrdersPerMinute < 0 {
		errs = append(errs, ValidationError{"strategy.max_orders_per_minute", s.MaxOrdersPerMinute, "must be >= 0"})
	}
	if s.MaxDailyLoss != nil && *s.MaxDailyLoss <= 0 {
		errs = append(errs, ValidationError{"strategy.max_daily_loss", *s.MaxDailyLoss, "must be positive when set"})
	}
	if s.PositionSize > 0 && s.MaxPosition > 0 && s.PositionSize > s.MaxPosition {
		errs = append(errs, ValidationError{"strategy.position_size", s.PositionSize, "must not exceed max_position"})
	}

	seen := make(map[string]bool)
	for _, ind := range s.DirectionPriority {
		switch ind {
		case IndicatorImbalance, IndicatorWeightedImbalance, IndicatorTradeFlow, IndicatorMomentum:
		default:
			errs = append(errs, ValidationError{"strategy.direction_priority", ind, "unknown indicator"})
		}
		if seen[ind] {
			errs = append(errs, ValidationError{"strategy.direction_priority", ind, "duplicate indicator"})
		}
		seen[ind] = true
	}
	return errs
}

func (b BacktestConfig) validate() []ValidationError {
	var errs []ValidationError
	if b.InitialBalance <= 0 {
		errs = append(errs, ValidationError{"backtest.initial_balance", b.InitialBalance, "must be positive"})
	}
	if b.FillModel != FillModelMid && b.FillModel != FillModelTouch {
		errs = append(errs, ValidationError{"backtest.fill_model", b.FillModel, "must be mid or touch"})
	}
	if b.PeriodsPerYear <= 0 {
		errs = append(errs, ValidationError{"backtest.periods_per_year", b.PeriodsPerYear, "must be positive"})
	}
	if b.ProgressEvery < 0 {
		errs = append(errs, ValidationError{"backtest.progress_every", b.ProgressEvery, "must be >= 0"})
	}
	if b.SweepWorkers < 0 {
		errs = append(errs, ValidationError{"backtest.sweep_workers", b.SweepWorkers, "must be >= 0"})
	}
	return errs
}

func (s SinkConfig) validate() []ValidationError {
	switch s.Type {
	case SinkLog:
		return nil
	case SinkRedis:
		var errs []ValidationError
		if s.RedisAddr == "" {
			errs = append(errs, ValidationError{"sink.redis_addr", s.RedisAddr, "required for redis sink"})
		}
		if s.Channel == "" && s.Stream == "" {
			errs = append(errs, ValidationError{"sink.channel", s.Channel, "channel or stream required for redis sink"})
		}
		return errs
	default:
		return []ValidationError{{"sink.type", s.Type, "must be log or redis"}}
	}
}

// IsConfigurationError reports whether err came from validation
func IsConfigurationError(err error) bool {
	return errors.Is(err, apperrors.ErrConfiguration)
}

// String returns a YAML rendering with secrets masked
func (c *Config) String() string {
	cp := *c
	cp.Sink.RedisPassword = maskString(cp.Sink.RedisPassword)
	data, _ := yaml.Marshal(cp)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultDirectionPriority is the order in which indicator signs decide a signal's direction
func DefaultDirectionPriority() []string {
	return []string{IndicatorImbalance, IndicatorTradeFlow, IndicatorWeightedImbalance, IndicatorMomentum}
}

// DefaultConfig returns the configuration used when a file omits a value
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{LogLevel: "INFO"},
		Strategy: StrategyConfig{
			Symbol:                  "BTCUSDT",
			OrderbookDepth:          20,
			ImbalanceThreshold:      0.6,
			SignalStrengthThreshold: 0.7,
			ConfirmationTicks:       3,
			MinOrderSize:            10000,
			LargeOrderThreshold:     50000,
			TradeFlowWindow:         60,
			WeightDecay:             1000,
			LiquidityRangePct:       0.5,
			DirectionPriority:       DefaultDirectionPriority(),
			PositionSize:            0.1,
			MaxPosition:             1.0,
			StopLossPct:             0.02,
			TakeProfitPct:           0.01,
			MaxOrdersPerMinute:      5,
			UpdateInterval:          0.5,
		},
		Backtest: BacktestConfig{
			InitialBalance: 10000,
			FillModel:      FillModelMid,
			PeriodsPerYear: 252,
			ProgressEvery:  10000,
		},
		Telemetry: TelemetryConfig{MetricsPort: 9090},
		Storage:   StorageConfig{SQLitePath: "backtest_results.db"},
		Feed: FeedConfig{
			ReconnectAttempts:   5,
			ReconnectDelayMs:    1000,
			PingIntervalSeconds: 30,
			QueueSize:           1024,
		},
		Sink: SinkConfig{
			Type:    SinkLog,
			Channel: "orderflow:instructions",
		},
	}
}
