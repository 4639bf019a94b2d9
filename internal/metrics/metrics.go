// Package metrics owns the Prometheus collectors for reelflow. A nil
// *Metrics is valid and records nothing, so components never need to check
// whether metrics are enabled.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector behind a private registry.
type Metrics struct {
	registry *prometheus.Registry

	launched        *prometheus.CounterVec
	finished        *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	conflicts       prometheus.Counter
	submissions     *prometheus.CounterVec
	webhooks        *prometheus.CounterVec
	failsafeActions *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	cronRuns        *prometheus.CounterVec
}

// New registers the reelflow collectors under namespace.
func New(namespace string) *Metrics {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "reelflow"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		launched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_launched_total",
			Help:      "Workflows created, by brand.",
		}, []string{"brand"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Workflows that reached a terminal status.",
		}, []string{"brand", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State machine evaluations by event kind and outcome.",
		}, []string{"stage", "event", "outcome"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Compare-and-swap writes that lost to a concurrent writer.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_submissions_total",
			Help:      "Vendor job submissions by stage and result.",
		}, []string{"stage", "result"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by vendor and result.",
		}, []string{"vendor", "result"}),
		failsafeActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failsafe_actions_total",
			Help:      "Failsafe scanner actions per workflow.",
		}, []string{"action"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "failsafe_scan_duration_seconds",
			Help:      "Wall time of a failsafe scan.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		cronRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_lock_runs_total",
			Help:      "Cron lock outcomes by job.",
		}, []string{"job", "result"}),
	}
	m.registry.MustRegister(
		m.launched,
		m.finished,
		m.transitions,
		m.conflicts,
		m.submissions,
		m.webhooks,
		m.failsafeActions,
		m.scanDuration,
		m.cronRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) WorkflowLaunched(brand string) {
	if m == nil {
		return
	}
	m.launched.WithLabelValues(brand).Inc()
}

func (m *Metrics) WorkflowFinished(brand, status string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(brand, status).Inc()
}

func (m *Metrics) Transition(stage, event, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(stage, event, outcome).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) Submission(stage, result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) Webhook(vendor, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(vendor, result).Inc()
}

// FailsafeAction counts n occurrences of a scanner action.
func (m *Metrics) FailsafeAction(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.failsafeActions.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) ScanDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) CronRun(job, result string) {
	if m == nil {
		return
	}
	m.cronRuns.WithLabelValues(job, result).Inc()
}
