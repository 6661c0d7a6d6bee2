package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricTicksProcessedTotal = "orderflow_ticks_processed_total"
	MetricTicksSkippedTotal   = "orderflow_ticks_skipped_total"
	MetricSignalsTotal        = "orderflow_signals_total"
	MetricRiskRejectionsTotal = "orderflow_risk_rejections_total"
	MetricFillsTotal          = "orderflow_fills_total"
	MetricVolumeTotal         = "orderflow_volume_total"
	MetricPnLRealizedTotal    = "orderflow_pnl_realized_total"
	MetricPnLUnrealized       = "orderflow_pnl_unrealized"
	MetricPositionSize        = "orderflow_position_size"
	MetricEquity              = "orderflow_equity"
	MetricImbalance           = "orderflow_book_imbalance"
	MetricSinkLatency         = "orderflow_sink_latency_ms"
)

// MetricsHolder holds initialized instruments.
// Record helpers are no-ops until InitMetrics has run, so components can
// report unconditionally and backtests without telemetry stay silent.
type MetricsHolder struct {
	TicksProcessedTotal metric.Int64Counter
	TicksSkippedTotal   metric.Int64Counter
	SignalsTotal        metric.Int64Counter
	RiskRejectionsTotal metric.Int64Counter
	FillsTotal          metric.Int64Counter
	VolumeTotal         metric.Float64Counter
	PnLRealizedTotal    metric.Float64Counter
	SinkLatency         metric.Float64Histogram
	PnLUnrealized       metric.Float64ObservableGauge
	PositionSize        metric.Float64ObservableGauge
	Equity              metric.Float64ObservableGauge
	Imbalance           metric.Float64ObservableGauge

	mu               sync.RWMutex
	unrealizedPnLMap map[string]float64
	positionSizeMap  map[string]float64
	equityMap        map[string]float64
	imbalanceMap     map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = NewMetricsHolder()
	})
	return globalMetrics
}

// NewMetricsHolder returns an uninitialized holder, mostly useful in tests
func NewMetricsHolder() *MetricsHolder {
	return &MetricsHolder{
		unrealizedPnLMap: make(map[string]float64),
		positionSizeMap:  make(map[string]float64),
		equityMap:        make(map[string]float64),
		imbalanceMap:     make(map[string]float64),
	}
}

// InitMetrics creates the instruments on the given meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.TicksProcessedTotal, err = meter.Int64Counter(MetricTicksProcessedTotal, metric.WithDescription("Ticks processed by strategy instances")); err != nil {
		return err
	}
	if m.TicksSkippedTotal, err = meter.Int64Counter(MetricTicksSkippedTotal, metric.WithDescription("Ticks skipped because validation failed")); err != nil {
		return err
	}
	if m.SignalsTotal, err = meter.Int64Counter(MetricSignalsTotal, metric.WithDescription("Signals by final status")); err != nil {
		return err
	}
	if m.RiskRejectionsTotal, err = meter.Int64Counter(MetricRiskRejectionsTotal, metric.WithDescription("Signals rejected by the risk gate")); err != nil {
		return err
	}
	if m.FillsTotal, err = meter.Int64Counter(MetricFillsTotal, metric.WithDescription("Simulated or forwarded fills")); err != nil {
		return err
	}
	if m.VolumeTotal, err = meter.Float64Counter(MetricVolumeTotal, metric.WithDescription("Traded volume in base asset")); err != nil {
		return err
	}
	if m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit/loss")); err != nil {
		return err
	}
	if m.SinkLatency, err = meter.Float64Histogram(MetricSinkLatency, metric.WithDescription("Latency of instruction delivery"), metric.WithUnit("ms")); err != nil {
		return err
	}

	gauge := func(name, desc string, src map[string]float64) (metric.Float64ObservableGauge, error) {
		return meter.Float64ObservableGauge(name, metric.WithDescription(desc),
			metric.WithFloat64Callback(func(_ context.Context, obs metric.Float64Observer) error {
				m.mu.RLock()
				defer m.mu.RUnlock()
				for sym, val := range src {
					obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
				}
				return nil
			}))
	}

	if m.PnLUnrealized, err = gauge(MetricPnLUnrealized, "Current unrealized PnL", m.unrealizedPnLMap); err != nil {
		return err
	}
	if m.PositionSize, err = gauge(MetricPositionSize, "Current signed position size", m.positionSizeMap); err != nil {
		return err
	}
	if m.Equity, err = gauge(MetricEquity, "Current account equity", m.equityMap); err != nil {
		return err
	}
	if m.Imbalance, err = gauge(MetricImbalance, "Latest top-of-book depth imbalance", m.imbalanceMap); err != nil {
		return err
	}
	return nil
}

func symbolAttr(symbol string, kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("symbol", symbol)}, kv...)...)
}

// RecordTick counts one processed tick of the given kind
func (m *MetricsHolder) RecordTick(ctx context.Context, symbol, kind string) {
	if m.TicksProcessedTotal != nil {
		m.TicksProcessedTotal.Add(ctx, 1, symbolAttr(symbol, attribute.String("kind", kind)))
	}
}

// RecordSkippedTick counts one tick dropped by validation
func (m *MetricsHolder) RecordSkippedTick(ctx context.Context, symbol, reason string) {
	if m.TicksSkippedTotal != nil {
		m.TicksSkippedTotal.Add(ctx, 1, symbolAttr(symbol, attribute.String("reason", reason)))
	}
}

// RecordSignal counts a signal reaching the given status
func (m *MetricsHolder) RecordSignal(ctx context.Context, symbol, direction, status string) {
	if m.SignalsTotal != nil {
		m.SignalsTotal.Add(ctx, 1, symbolAttr(symbol, attribute.String("direction", direction), attribute.String("status", status)))
	}
}

// RecordRejection counts a risk gate rejection
func (m *MetricsHolder) RecordRejection(ctx context.Context, symbol, reason string) {
	if m.RiskRejectionsTotal != nil {
		m.RiskRejectionsTotal.Add(ctx, 1, symbolAttr(symbol, attribute.String("reason", reason)))
	}
}

// RecordFill counts one fill and its volume
func (m *MetricsHolder) RecordFill(ctx context.Context, symbol, side string, qty float64) {
	if m.FillsTotal != nil {
		m.FillsTotal.Add(ctx, 1, symbolAttr(symbol, attribute.String("side", side)))
	}
	if m.VolumeTotal != nil {
		m.VolumeTotal.Add(ctx, qty, symbolAttr(symbol))
	}
}

// RecordRealizedPnL adds realized PnL
func (m *MetricsHolder) RecordRealizedPnL(ctx context.Context, symbol string, pnl float64) {
	if m.PnLRealizedTotal != nil {
		m.PnLRealizedTotal.Add(ctx, pnl, symbolAttr(symbol))
	}
}

// RecordSinkLatency observes how long an instruction took to deliver
func (m *MetricsHolder) RecordSinkLatency(ctx context.Context, symbol, sink string, ms float64) {
	if m.SinkLatency != nil {
		m.SinkLatency.Record(ctx, ms, symbolAttr(symbol, attribute.String("sink", sink)))
	}
}

func (m *MetricsHolder) SetUnrealizedPnL(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedPnLMap[symbol] = value
}

func (m *MetricsHolder) SetPositionSize(symbol string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[symbol] = size
}

func (m *MetricsHolder) SetEquity(symbol string, equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityMap[symbol] = equity
}

func (m *MetricsHolder) SetImbalance(symbol string, imbalance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imbalanceMap[symbol] = imbalance
}

// GetPositionSize returns a copy of the position gauge state
func (m *MetricsHolder) GetPositionSize() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.positionSizeMap))
	for k, v := range m.positionSizeMap {
		res[k] = v
	}
	return res
}

// GetEquity returns a copy of the equity gauge state
func (m *MetricsHolder) GetEquity() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64, len(m.equityMap))
	for k, v := range m.equityMap {
		res[k] = v
	}
	return res
}
