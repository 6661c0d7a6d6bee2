package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zap.DebugLevel, false},
		{"INFO", zap.InfoLevel, false},
		{"", zap.InfoLevel, false},
		{"warning", zap.WarnLevel, false},
		{"ERROR", zap.ErrorLevel, false},
		{"verbose", zap.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewZapLogger_InvalidLevel(t *testing.T) {
	_, err := NewZapLogger("loud")
	assert.Error(t, err)
}

func TestZapLogger_FieldsAndWith(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	logger := NewFromZap(zap.New(obsCore))

	component := logger.WithField("component", "signal_engine")
	component.Info("signal confirmed", "direction", "buy", "strength", 0.42)
	component.WithFields(map[string]interface{}{"symbol": "BTCUSDT"}).Warn("tick skipped")
	// odd trailing key is ignored
	logger.Debug("dangling", "only_key")

	entries := logs.All()
	require.Len(t, entries, 3)

	first := entries[0].ContextMap()
	assert.Equal(t, "signal_engine", first["component"])
	assert.Equal(t, "buy", first["direction"])
	assert.Equal(t, 0.42, first["strength"])

	second := entries[1].ContextMap()
	assert.Equal(t, "BTCUSDT", second["symbol"])
	assert.Equal(t, "signal_engine", second["component"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)

	assert.Empty(t, entries[2].ContextMap())
}

func TestGlobalLogger(t *testing.T) {
	obsCore, logs := observer.New(zap.InfoLevel)
	prev := GetGlobalLogger()
	defer SetGlobalLogger(prev)

	SetGlobalLogger(NewFromZap(zap.New(obsCore)))
	Info("hello", "k", 1)
	Error("boom")

	assert.Equal(t, 2, logs.Len())
}
