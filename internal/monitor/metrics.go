package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "futures_core"

// Metrics holds the engine's prometheus collectors on a private registry.
// All methods are safe on a nil receiver so components can run unmetered.
type Metrics struct {
	reg *prometheus.Registry

	ticks        *prometheus.CounterVec
	droppedTicks *prometheus.CounterVec
	bars         *prometheus.CounterVec
	signals      *prometheus.CounterVec
	fills        *prometheus.CounterVec
	rejections   prometheus.Counter
	resyncs      *prometheus.CounterVec
	evalLatency  prometheus.Histogram
	position     prometheus.Gauge
	realizedPnL  prometheus.Gauge
	autoTrading  prometheus.Gauge
}

// NewMetrics registers every collector plus the Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ticks_total", Help: "Count of market ticks ingested"},
			[]string{"symbol"},
		),
		droppedTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ticks_dropped_total", Help: "Ticks dropped as malformed or out of order"},
			[]string{"symbol", "reason"},
		),
		bars: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "bars_total", Help: "Bars finalized"},
			[]string{"symbol"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "signals_total", Help: "Signals produced, by direction and whether they were executed"},
			[]string{"direction", "outcome"},
		),
		fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "fills_total", Help: "Confirmed fills by leg"},
			[]string{"leg"},
		),
		rejections: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "order_rejections_total", Help: "Orders refused or failed at the gateway"},
		),
		resyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "resyncs_total", Help: "Reconciliation runs by outcome"},
			[]string{"outcome"},
		),
		evalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "strategy_evaluate_seconds",
			Help:      "Time spent in strategy evaluation per bar",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		position: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "position_contracts", Help: "Signed shadow position"},
		),
		realizedPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "realized_pnl", Help: "Session realized P&L net of fees"},
		),
		autoTrading: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "auto_trading", Help: "1 when strategy signals are executed"},
		),
	}
	m.reg.MustRegister(
		m.ticks, m.droppedTicks, m.bars, m.signals, m.fills, m.rejections, m.resyncs,
		m.evalLatency, m.position, m.realizedPnL, m.autoTrading,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for gathering in tests and handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) TickProcessed(symbol string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(symbol).Inc()
}

func (m *Metrics) TickDropped(symbol, reason string) {
	if m == nil {
		return
	}
	m.droppedTicks.WithLabelValues(symbol, reason).Inc()
}

func (m *Metrics) BarClosed(symbol string) {
	if m == nil {
		return
	}
	m.bars.WithLabelValues(symbol).Inc()
}

// SignalSeen counts a signal; outcome is executed, skipped, ignored or rejected.
func (m *Metrics) SignalSeen(direction, outcome string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(direction, outcome).Inc()
}

func (m *Metrics) FillRecorded(leg string) {
	if m == nil {
		return
	}
	m.fills.WithLabelValues(leg).Inc()
}

func (m *Metrics) OrderRejected() {
	if m == nil {
		return
	}
	m.rejections.Inc()
}

// ResyncDone counts a reconciliation; outcome is synced, matched or stale.
func (m *Metrics) ResyncDone(outcome string) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEvaluate(d time.Duration) {
	if m == nil {
		return
	}
	m.evalLatency.Observe(d.Seconds())
}

func (m *Metrics) SetPosition(qty float64) {
	if m == nil {
		return
	}
	m.position.Set(qty)
}

func (m *Metrics) SetRealizedPnL(v float64) {
	if m == nil {
		return
	}
	m.realizedPnL.Set(v)
}

func (m *Metrics) SetAutoTrading(on bool) {
	if m == nil {
		return
	}
	if on {
		m.autoTrading.Set(1)
	} else {
		m.autoTrading.Set(0)
	}
}
