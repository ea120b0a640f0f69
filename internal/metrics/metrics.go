package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	delegations    *prometheus.CounterVec
	delegationTime prometheus.Histogram
	workflows      *prometheus.CounterVec
	healthFailures *prometheus.CounterVec
	agents         *prometheus.GaugeVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_delegations_total",
			Help: "Delegations by terminal status",
		}, []string{"status"}),
		delegationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mesh_delegation_duration_seconds",
			Help:    "Delegation execution time in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_workflows_total",
			Help: "Workflow executions by terminal status",
		}, []string{"status"}),
		healthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_health_check_failures_total",
			Help: "Failed agent health probes",
		}, []string{"agent"}),
		agents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mesh_agents",
			Help: "Known agents by status",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.delegations,
		m.delegationTime,
		m.workflows,
		m.healthFailures,
		m.agents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DelegationFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.delegations.WithLabelValues(status).Inc()
	m.delegationTime.Observe(elapsed.Seconds())
}

func (m *Metrics) WorkflowFinished(status string) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(status).Inc()
}

func (m *Metrics) ProbeFailed(agent string) {
	if m == nil {
		return
	}
	m.healthFailures.WithLabelValues(agent).Inc()
}

// SetAgents replaces the per-status agent gauge.
func (m *Metrics) SetAgents(byStatus map[string]int) {
	if m == nil {
		return
	}
	m.agents.Reset()
	for status, n := range byStatus {
		m.agents.WithLabelValues(status).Set(float64(n))
	}
}
