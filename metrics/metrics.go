// Package metrics exposes session engine counters to Prometheus.
package metrics

import (
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sessionkeeper"

// Refresh sources.
const (
	SourceVerify    = "verify"
	SourceKeepAlive = "keepalive"
)

// Metrics records session lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	refresh      *prometheus.CounterVec
	verify       *prometheus.CounterVec
	forcedLogout *prometheus.CounterVec
	tick         *prometheus.CounterVec
	active       prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		refresh: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Refresh grant attempts by trigger and outcome",
		}, []string{"source", "outcome"}),
		verify: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_total",
			Help:      "Session verifications by resulting state",
		}, []string{"state"}),
		forcedLogout: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_logout_total",
			Help:      "Sessions terminated by the system, by reason",
		}, []string{"reason"}),
		tick: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_tick_total",
			Help:      "Keep-alive ticks by outcome",
		}, []string{"outcome"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Session contexts currently hosted",
		}),
	}
}

// Noop returns nil, which every method accepts.
func Noop() *Metrics {
	return nil
}

func (m *Metrics) Refresh(source, outcome string) {
	if m != nil {
		m.refresh.WithLabelValues(source, outcome).Inc()
	}
}

func (m *Metrics) Verify(state string) {
	if m != nil {
		m.verify.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) ForcedLogout(reason string) {
	if m != nil {
		m.forcedLogout.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Tick(outcome string) {
	if m != nil {
		m.tick.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.active.Dec()
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{Matcher: regexp.MustCompile("/sched/.*")},
		)),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)
	return reg
}
