// Package observability provides Prometheus metrics for the trading engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Screening metrics
	ScreeningVerdicts *prometheus.CounterVec

	// Execution metrics
	TradeOutcomes *prometheus.CounterVec
	TradeAttempts *prometheus.CounterVec

	// Exit metrics
	ExitTriggers  *prometheus.CounterVec
	SweepDuration prometheus.Histogram
	OpenPositions prometheus.Gauge

	// Gradual-sell metrics
	GradualSellEntries *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers every metric on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_sniper"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		ScreeningVerdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "screening",
			Name:      "verdicts_total",
			Help:      "Screening verdicts by reason code",
		}, []string{"reason"}),
		TradeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "outcomes_total",
			Help:      "Terminal trade outcomes by direction and status",
		}, []string{"direction", "status"}),
		TradeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "attempts_total",
			Help:      "Submitted trade attempts by direction",
		}, []string{"direction"}),
		ExitTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "exit",
			Name:      "triggers_total",
			Help:      "Exit rules that fired, by rule",
		}, []string{"rule"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "exit",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one exit sweep",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "exit",
			Name:      "open_positions",
			Help:      "Active positions seen by the last sweep",
		}),
		GradualSellEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gradual_sell",
			Name:      "entries_total",
			Help:      "Gradual-sell queue entries by event",
		}, []string{"event"}),
		registry: reg,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The recording helpers below are safe on a nil *Metrics so services can run
// without a registry.

func (m *Metrics) ObserveVerdict(reason string) {
	if m == nil {
		return
	}
	m.ScreeningVerdicts.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveAttempt(direction string) {
	if m == nil {
		return
	}
	m.TradeAttempts.WithLabelValues(direction).Inc()
}

func (m *Metrics) ObserveOutcome(direction, status string) {
	if m == nil {
		return
	}
	m.TradeOutcomes.WithLabelValues(direction, status).Inc()
}

func (m *Metrics) ObserveExit(rule string) {
	if m == nil {
		return
	}
	m.ExitTriggers.WithLabelValues(rule).Inc()
}

func (m *Metrics) ObserveSweep(seconds float64, openPositions int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
	m.OpenPositions.Set(float64(openPositions))
}

func (m *Metrics) ObserveGradual(event string, n int) {
	if m == nil {
		return
	}
	m.GradualSellEntries.WithLabelValues(event).Add(float64(n))
}
