package bootstrap

import (
	"orderflow/internal/core"
	"orderflow/pkg/logging"
)

// InitLogger builds the zap logger for cfg and installs it as the global logger
func InitLogger(cfg *Config) (core.ILogger, error) {
	zl, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := zl.WithField("symbol", cfg.Strategy.Symbol)
	logging.SetGlobalLogger(logger)
	return logger, nil
}
