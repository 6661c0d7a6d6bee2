package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "orderflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "redis_addr: ${TEST_REDIS_ADDR}",
			envVars:  map[string]string{"TEST_REDIS_ADDR": "localhost:6379"},
			expected: "redis_addr: localhost:6379",
		},
		{
			name:     "missing env var returns empty string",
			input:    "redis_password: ${MISSING_VAR}",
			envVars:  map[string]string{},
			expected: "redis_password: ",
		},
		{
			name:     "mixed static and env vars",
			input:    "symbol: BTCUSDT\nurl: ${TEST_FEED_URL}",
			envVars:  map[string]string{"TEST_FEED_URL": "ws://feed"},
			expected: "symbol: BTCUSDT\nurl: ws://feed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"imbalance", "trade_flow", "weighted_imbalance", "momentum"}, cfg.Strategy.DirectionPriority)
	assert.Equal(t, FillModelMid, cfg.Backtest.FillModel)
	assert.Nil(t, cfg.Strategy.MaxDailyLoss)
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	t.Setenv("TEST_SYMBOL", "ETHUSDT")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `system:
  log_level: DEBUG
strategy:
  symbol: "${TEST_SYMBOL}"
  imbalance_threshold: 0.5
  signal_strength_threshold: 0.4
  max_daily_loss: 250
  direction_priority: [trade_flow, imbalance]
backtest:
  fill_model: touch
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.System.LogLevel)
	assert.Equal(t, "ETHUSDT", cfg.Strategy.Symbol)
	assert.Equal(t, 0.5, cfg.Strategy.ImbalanceThreshold)
	assert.Equal(t, 0.4, cfg.Strategy.SignalStrengthThreshold)
	require.NotNil(t, cfg.Strategy.MaxDailyLoss)
	assert.Equal(t, 250.0, *cfg.Strategy.MaxDailyLoss)
	assert.Equal(t, []string{"trade_flow", "imbalance"}, cfg.Strategy.DirectionPriority)
	assert.Equal(t, FillModelTouch, cfg.Backtest.FillModel)
	// untouched values keep their defaults
	assert.Equal(t, 3, cfg.Strategy.ConfirmationTicks)
	assert.Equal(t, 10000.0, cfg.Backtest.InitialBalance)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"imbalance threshold above one", func(c *Config) { c.Strategy.ImbalanceThreshold = 1.5 }, "strategy.imbalance_threshold"},
		{"negative strength threshold", func(c *Config) { c.Strategy.SignalStrengthThreshold = -0.1 }, "strategy.signal_strength_threshold"},
		{"zero confirmation ticks", func(c *Config) { c.Strategy.ConfirmationTicks = 0 }, "strategy.confirmation_ticks"},
		{"zero depth", func(c *Config) { c.Strategy.OrderbookDepth = 0 }, "strategy.orderbook_depth"},
		{"non-positive window", func(c *Config) { c.Strategy.TradeFlowWindow = 0 }, "strategy.trade_flow_window"},
		{"position larger than max", func(c *Config) { c.Strategy.PositionSize = 2 }, "strategy.position_size"},
		{"unknown indicator", func(c *Config) { c.Strategy.DirectionPriority = []string{"vibes"} }, "strategy.direction_priority"},
		{"duplicate indicator", func(c *Config) {
			c.Strategy.DirectionPriority = []string{IndicatorImbalance, IndicatorImbalance}
		}, "strategy.direction_priority"},
		{"zero daily loss", func(c *Config) { v := 0.0; c.Strategy.MaxDailyLoss = &v }, "strategy.max_daily_loss"},
		{"bad fill model", func(c *Config) { c.Backtest.FillModel = "vwap" }, "backtest.fill_model"},
		{"zero balance", func(c *Config) { c.Backtest.InitialBalance = 0 }, "backtest.initial_balance"},
		{"redis without addr", func(c *Config) { c.Sink.Type = SinkRedis }, "sink.redis_addr"},
		{"unknown sink", func(c *Config) { c.Sink.Type = "kafka" }, "sink.type"},
		{"metrics port out of range", func(c *Config) {
			c.Telemetry.EnableMetrics = true
			c.Telemetry.MetricsPort = 70000
		}, "telemetry.metrics_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
			assert.True(t, IsConfigurationError(err))

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestParse_AggregatesErrors(t *testing.T) {
	_, err := Parse([]byte("strategy:\n  confirmation_ticks: 0\n  orderbook_depth: 0\n"))
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sink.RedisPassword = "supersecretpassword"
	out := cfg.String()
	assert.NotContains(t, out, "supersecretpassword")
	assert.Contains(t, out, "supe")
}

func TestStrategyConfig_ValidateReturnsValidationErrors(t *testing.T) {
	cfg := DefaultConfig().Strategy
	require.NoError(t, cfg.Validate())

	cfg.ConfirmationTicks = 0
	cfg.PositionSize = -1
	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "strategy.confirmation_ticks")
}

func TestParse_RiskFreeRate(t *testing.T) {
	cfg, err := Parse([]byte("backtest:\n  risk_free_rate: 0.03\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.03, cfg.Backtest.RiskFreeRate)
	assert.Equal(t, 0.0, DefaultConfig().Backtest.RiskFreeRate)
}
