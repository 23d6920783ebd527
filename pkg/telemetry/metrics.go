package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricUtilizationRatio = "grid_utilization_ratio"
	MetricModeActive       = "grid_mode_active"
	MetricResetTotal       = "grid_reset_total"
	MetricPositionSize     = "grid_position_size"
	MetricRealizedPnLTotal = "grid_realized_pnl_total"
	MetricOrderErrorsTotal = "grid_order_errors_total"
	MetricFillLatency      = "grid_fill_latency_seconds"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	UtilizationRatio metric.Float64ObservableGauge
	ModeActive       metric.Int64ObservableGauge
	ResetTotal       metric.Int64Counter
	PositionSize     metric.Float64ObservableGauge
	RealizedPnLTotal metric.Float64Counter
	OrderErrorsTotal metric.Int64Counter
	FillLatency      metric.Float64Histogram

	mu               sync.RWMutex
	utilizationMap   map[string]float64
	modeActiveMap    map[string]int64
	positionSizeMap  map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			utilizationMap:  make(map[string]float64),
			modeActiveMap:   make(map[string]int64),
			positionSizeMap: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.ResetTotal, err = meter.Int64Counter(MetricResetTotal, metric.WithDescription("Total grid resets, by reason"))
	if err != nil {
		return err
	}

	m.RealizedPnLTotal, err = meter.Float64Counter(MetricRealizedPnLTotal, metric.WithDescription("Cumulative realized profit/loss"))
	if err != nil {
		return err
	}

	m.OrderErrorsTotal, err = meter.Int64Counter(MetricOrderErrorsTotal, metric.WithDescription("Total order placement/cancellation errors"))
	if err != nil {
		return err
	}

	m.FillLatency, err = meter.Float64Histogram(MetricFillLatency, metric.WithDescription("Time from order placement to fill"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.UtilizationRatio, err = meter.Float64ObservableGauge(MetricUtilizationRatio, metric.WithDescription("Fraction of grid levels currently holding a resting order"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.utilizationMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ModeActive, err = meter.Int64ObservableGauge(MetricModeActive, metric.WithDescription("Whether a mode manager is currently active (1=active, 0=inactive)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for mode, val := range m.modeActiveMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("mode", mode)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize, metric.WithDescription("Current position size"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable/counter state. No package in this module
// calls them; the instruments carry only what a caller records through them.

func (m *MetricsHolder) SetUtilization(symbol string, ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utilizationMap[symbol] = ratio
}

func (m *MetricsHolder) SetModeActive(mode string, active bool) {
	val := int64(0)
	if active {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modeActiveMap[mode] = val
}

func (m *MetricsHolder) SetPositionSize(symbol string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[symbol] = size
}

func (m *MetricsHolder) IncResetTotal(ctx context.Context, reason string) {
	if m.ResetTotal == nil {
		return
	}
	m.ResetTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *MetricsHolder) IncOrderErrors(ctx context.Context) {
	if m.OrderErrorsTotal == nil {
		return
	}
	m.OrderErrorsTotal.Add(ctx, 1)
}

func (m *MetricsHolder) AddRealizedPnL(ctx context.Context, delta float64) {
	if m.RealizedPnLTotal == nil {
		return
	}
	m.RealizedPnLTotal.Add(ctx, delta)
}

func (m *MetricsHolder) ObserveFillLatency(ctx context.Context, seconds float64) {
	if m.FillLatency == nil {
		return
	}
	m.FillLatency.Record(ctx, seconds)
}

func (m *MetricsHolder) GetUtilization() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.utilizationMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetPositionSize() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.positionSizeMap {
		res[k] = v
	}
	return res
}
