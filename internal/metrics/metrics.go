// Package metrics exposes Prometheus counters and histograms for the action
// ledger and the chain boundary.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rwavault"

// Metrics holds every collector the vault records. Each instance owns its own
// registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	ActionsTotal      *prometheus.CounterVec
	ActionDuration    *prometheus.HistogramVec
	GateRejections    *prometheus.CounterVec
	InFlight          prometheus.Gauge
	ChainCallDuration *prometheus.HistogramVec
	PositionRefreshes *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ActionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "actions_total",
			Help:      "Executed actions by type and outcome (success, gate, approval, external).",
		}, []string{"action", "outcome"}),
		ActionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "action_duration_seconds",
			Help:      "Wall time from PROCESSING to a terminal state.",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"action"}),
		GateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "gate_rejections_total",
			Help:      "Actions refused by the eligibility gate, by reason.",
		}, []string{"reason"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "in_flight",
			Help:      "Assets with an action currently PROCESSING.",
		}),
		ChainCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "call_duration_seconds",
			Help:      "Latency of contract reads and submissions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		PositionRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "refreshes_total",
			Help:      "Position refreshes by result (ok, error, cache_hit).",
		}, []string{"result"}),
	}
}

// ObserveAction records one finished action.
func (m *Metrics) ObserveAction(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, outcome).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveGateRejection counts one refusal.
func (m *Metrics) ObserveGateRejection(reason string) {
	if m == nil {
		return
	}
	m.GateRejections.WithLabelValues(reason).Inc()
}

// ObserveChainCall records one contract round trip.
func (m *Metrics) ObserveChainCall(method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ChainCallDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveRefresh counts one position refresh.
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.PositionRefreshes.WithLabelValues(result).Inc()
}

// Registry returns the registry behind m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
