// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"BiasSentinel/internal/model"
)

// Metrics holds all Prometheus metrics for the service. Each instance owns a
// private registry so several pipelines can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Cycle metrics
	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	LastSuccessfulCycle prometheus.Gauge
	BiasScore           prometheus.Gauge

	// Ingestion metrics
	BarsIngested *prometheus.CounterVec
	BarsDropped  *prometheus.CounterVec
	FeedTimeouts *prometheus.CounterVec

	// Analysis metrics
	ActiveZones     *prometheus.GaugeVec
	ZoneTransitions *prometheus.CounterVec
	LiquidityEvents *prometheus.CounterVec
	EngineErrors    *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with every metric registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bias_sentinel"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of analysis cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Analysis cycle duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		}),
		LastSuccessfulCycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful cycle",
		}),
		BiasScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bias",
			Name:      "score",
			Help:      "Latest bias score in [-10, 10]",
		}),

		BarsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "bars_total",
			Help:      "Total number of bars appended by timeframe",
		}, []string{"timeframe"}),
		BarsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "bars_dropped_total",
			Help:      "Total number of bars rejected by timeframe and reason",
		}, []string{"timeframe", "reason"}),
		FeedTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "feed_timeouts_total",
			Help:      "Total number of feed timeouts by timeframe",
		}, []string{"timeframe"}),

		ActiveZones: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "zones",
			Name:      "active",
			Help:      "Number of live zones by timeframe and type",
		}, []string{"timeframe", "type"}),
		ZoneTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "zones",
			Name:      "transitions_total",
			Help:      "Total number of zone state transitions by target state",
		}, []string{"timeframe", "to"}),
		LiquidityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liquidity",
			Name:      "events_total",
			Help:      "Total number of liquidity events reported by kind",
		}, []string{"timeframe", "kind"}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Total number of engine-internal errors by component and kind",
		}, []string{"component", "kind"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(outcome string, d time.Duration) {
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
	if outcome == "ok" {
		m.LastSuccessfulCycle.SetToCurrentTime()
	}
}

// RecordBars counts appended bars.
func (m *Metrics) RecordBars(tf model.Timeframe, n int) {
	if n > 0 {
		m.BarsIngested.WithLabelValues(string(tf)).Add(float64(n))
	}
}

// RecordDropped counts a rejected bar.
func (m *Metrics) RecordDropped(tf model.Timeframe, reason string) {
	m.BarsDropped.WithLabelValues(string(tf), reason).Inc()
}

// RecordFeedTimeout counts a feed timeout.
func (m *Metrics) RecordFeedTimeout(tf model.Timeframe) {
	m.FeedTimeouts.WithLabelValues(string(tf)).Inc()
}

// SetActiveZones publishes the live zone counts of tf.
func (m *Metrics) SetActiveZones(tf model.Timeframe, zones []model.Zone) {
	counts := map[model.ZoneType]int{model.Demand: 0, model.Supply: 0}
	for _, z := range zones {
		counts[z.Type]++
	}
	for typ, n := range counts {
		m.ActiveZones.WithLabelValues(string(tf), string(typ)).Set(float64(n))
	}
}

// RecordTransition counts a zone state transition.
func (m *Metrics) RecordTransition(tf model.Timeframe, to model.ZoneState) {
	m.ZoneTransitions.WithLabelValues(string(tf), to.String()).Inc()
}

// RecordLiquidity counts reported liquidity events.
func (m *Metrics) RecordLiquidity(tf model.Timeframe, events []model.LiquidityEvent) {
	for _, e := range events {
		m.LiquidityEvents.WithLabelValues(string(tf), string(e.Kind)).Inc()
	}
}

// RecordEngineError counts an engine-internal error.
func (m *Metrics) RecordEngineError(component, kind string) {
	m.EngineErrors.WithLabelValues(component, kind).Inc()
}
