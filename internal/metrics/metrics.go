// Package metrics holds the Prometheus collectors of the engine. Collectors
// live on an explicit registry so that tests and embedders can own it.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	diffEntries   *prometheus.CounterVec // schemasync_diff_entries_total
	actions       *prometheus.CounterVec // schemasync_actions_total
	referenceRows *prometheus.CounterVec // schemasync_reference_rows_total
	runDuration   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		diffEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schemasync_diff_entries_total",
				Help: "Schema differences found, partitioned by kind.",
			},
			[]string{"kind"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schemasync_actions_total",
				Help: "Corrective actions processed, partitioned by action kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		referenceRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "schemasync_reference_rows_total",
				Help: "Reference data rows written, partitioned by table and operation.",
			},
			[]string{"table", "op"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "schemasync_run_duration_seconds",
				Help:    "Duration of engine operations in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"kind", "status"},
		),
	}
	for name, c := range map[string]prometheus.Collector{
		"diff entries":   m.diffEntries,
		"actions":        m.actions,
		"reference rows": m.referenceRows,
		"run duration":   m.runDuration,
	} {
		if err := m.reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register %s: %w", name, err)
		}
	}
	return m, nil
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) DiffEntry(kind string, n int) {
	m.diffEntries.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Action(kind, outcome string) {
	m.actions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ReferenceRows(table, op string, n int) {
	if n == 0 {
		return
	}
	m.referenceRows.WithLabelValues(table, op).Add(float64(n))
}

// ObserveRun records how long an operation took; status is "ok" or "error".
func (m *Metrics) ObserveRun(kind, status string, d time.Duration) {
	m.runDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}
