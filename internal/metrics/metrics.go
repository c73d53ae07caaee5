// Package metrics exposes prometheus collectors for table upgrades and
// CRUD activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzpsarthak13/tablekeeper/internal/core"
)

const namespace = "tablekeeper"

// Metrics holds the registered collectors.
type Metrics struct {
	registry *prometheus.Registry

	upgrades      *prometheus.CounterVec
	ready         *prometheus.GaugeVec
	schemaVersion *prometheus.GaugeVec
	queryFailures *prometheus.CounterVec
	evictions     *prometheus.CounterVec
}

// New creates collectors on a dedicated registry, together with the
// process and Go runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	m := &Metrics{registry: registry}
	m.upgrades = m.newCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upgrader",
		Name:      "outcomes_total",
		Help:      "Upgrade attempts by table and resulting state.",
	}, []string{"table", "state"})
	m.ready = m.newGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "upgrader",
		Name:      "ready",
		Help:      "1 when the table is ready, 0 otherwise.",
	}, []string{"table"})
	m.schemaVersion = m.newGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "upgrader",
		Name:      "schema_version",
		Help:      "Last recorded schema version.",
	}, []string{"table"})
	m.queryFailures = m.newCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crud",
		Name:      "failures_total",
		Help:      "Failed CRUD statements by table and operation.",
	}, []string{"table", "operation"})
	m.evictions = m.newCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "crud",
		Name:      "evictions_total",
		Help:      "Rows removed by oldest-first eviction.",
	}, []string{"table"})
	return m
}

func (m *Metrics) newCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(opts, labels)
	m.registry.MustRegister(vec)
	return vec
}

func (m *Metrics) newGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(opts, labels)
	m.registry.MustRegister(vec)
	return vec
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UpgradeOutcome records the state an upgrade attempt ended in.
func (m *Metrics) UpgradeOutcome(table string, state core.UpgradeState, version int) {
	if m == nil {
		return
	}
	m.upgrades.WithLabelValues(table, string(state)).Inc()
	if state == core.StateReady {
		m.ready.WithLabelValues(table).Set(1)
		m.schemaVersion.WithLabelValues(table).Set(float64(version))
	} else {
		m.ready.WithLabelValues(table).Set(0)
	}
}

// QueryFailed counts a failed CRUD statement.
func (m *Metrics) QueryFailed(table, operation string) {
	if m == nil {
		return
	}
	m.queryFailures.WithLabelValues(table, operation).Inc()
}

// Evicted counts rows removed by oldest-first eviction.
func (m *Metrics) Evicted(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(table).Add(float64(n))
}
