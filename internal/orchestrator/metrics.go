package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the engine.
type Metrics struct {
	RoutesTotal   *prometheus.CounterVec
	GateTotal     *prometheus.CounterVec
	RunsTotal     *prometheus.CounterVec
	RunSteps      prometheus.Histogram
	WorkerSeconds *prometheus.HistogramVec
	AuditFailures prometheus.Counter
}

// NewMetrics registers the engine metrics once per process.
//
// Metrics:
//   - fleetd_route_decisions_total{node,rule}
//   - fleetd_gate_decisions_total{gate,decision}
//   - fleetd_runs_total{outcome}
//   - fleetd_run_steps
//   - fleetd_worker_duration_seconds{node}
//   - fleetd_audit_failures_total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RoutesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fleetd_route_decisions_total",
					Help: "Routing decisions by node and rule",
				},
				[]string{"node", "rule"},
			),
			GateTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fleetd_gate_decisions_total",
					Help: "Input gate evaluations by gate and decision",
				},
				[]string{"gate", "decision"},
			),
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "fleetd_runs_total",
					Help: "Executor runs by outcome (ok, blocked or an error kind)",
				},
				[]string{"outcome"},
			),
			RunSteps: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "fleetd_run_steps",
					Help:    "Worker steps per run",
					Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 12, 20},
				},
			),
			WorkerSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "fleetd_worker_duration_seconds",
					Help:    "Worker invocation latency",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
				},
				[]string{"node"},
			),
			AuditFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "fleetd_audit_failures_total",
					Help: "Audit records that could not be written",
				},
			),
		}
	})
	return globalMetrics
}
