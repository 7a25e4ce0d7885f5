package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus metrics for workflow execution, namespaced
// with "tripflow_":
//
//   - runs_started_total (counter): fresh runs accepted, by workflow.
//   - runs_finished_total (counter): terminal transitions, by workflow and
//     status (completed/failed).
//   - suspensions_total (counter): request-port suspensions, by port id.
//   - suspended_runs (gauge): runs currently waiting on an external reply.
//   - event_latency_ms (histogram): time spent producing one stream event,
//     by originating node.
//
// Attach via OrchestratorOptions.Metrics; a nil Metrics disables collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
type Metrics struct {
	runsStarted   *prometheus.CounterVec
	runsFinished  *prometheus.CounterVec
	suspensions   *prometheus.CounterVec
	suspendedRuns prometheus.Gauge
	eventLatency  *prometheus.HistogramVec
}

// NewMetrics creates and registers the metric set on the given registerer.
// Registering twice on the same registerer panics, matching promauto
// conventions; share one Metrics per process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripflow",
			Name:      "runs_started_total",
			Help:      "Fresh workflow runs accepted.",
		}, []string{"workflow"}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripflow",
			Name:      "runs_finished_total",
			Help:      "Workflow runs that reached a terminal status.",
		}, []string{"workflow", "status"}),
		suspensions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tripflow",
			Name:      "suspensions_total",
			Help:      "Request-port suspensions.",
		}, []string{"port"}),
		suspendedRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "tripflow",
			Name:      "suspended_runs",
			Help:      "Runs currently awaiting an external reply.",
		}),
		eventLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tripflow",
			Name:      "event_latency_ms",
			Help:      "Milliseconds spent producing one run stream event.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node"}),
	}
}

func (m *Metrics) runStarted(workflow string) {
	if m == nil {
		return
	}
	m.runsStarted.WithLabelValues(workflow).Inc()
}

func (m *Metrics) runFinished(workflow string, status RunStatus) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(workflow, string(status)).Inc()
}

func (m *Metrics) suspended(port string) {
	if m == nil {
		return
	}
	m.suspensions.WithLabelValues(port).Inc()
	m.suspendedRuns.Inc()
}

func (m *Metrics) resumed() {
	if m == nil {
		return
	}
	m.suspendedRuns.Dec()
}

func (m *Metrics) observeEvent(node string, d time.Duration) {
	if m == nil || node == "" {
		return
	}
	m.eventLatency.WithLabelValues(node).Observe(float64(d.Milliseconds()))
}
