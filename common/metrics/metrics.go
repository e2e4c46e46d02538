package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the services export. Instances are passed
// into components at construction; nothing registers on the default global
// registry.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted    prometheus.Counter
	RunsTerminal   *prometheus.CounterVec
	NodeExecutions *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
	RetriesTotal   prometheus.Counter
	QueueDepth     *prometheus.GaugeVec
	TriggersTotal  *prometheus.CounterVec
	WebhooksTotal  *prometheus.CounterVec
	EventsAppended prometheus.Counter
}

// New creates a Metrics set on a fresh registry.
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_runs_started_total", Help: "Workflow runs started.", ConstLabels: labels,
		}),
		RunsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_runs_terminal_total", Help: "Workflow runs reaching a terminal state.", ConstLabels: labels,
		}, []string{"state"}),
		NodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "node_executions_total", Help: "Node executions by type and outcome.", ConstLabels: labels,
		}, []string{"node_type", "state"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "node_execution_duration_seconds",
			Help:        "Node execution wall time.",
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 14),
			ConstLabels: labels,
		}, []string{"node_type"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "node_retries_total", Help: "Node attempts re-enqueued after a retryable failure.", ConstLabels: labels,
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "job_queue_depth", Help: "Jobs waiting per lane.", ConstLabels: labels,
		}, []string{"lane"}),
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trigger_requests_total", Help: "Trigger requests by outcome.", ConstLabels: labels,
		}, []string{"outcome"}),
		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_requests_total", Help: "Inbound webhook requests by provider and outcome.", ConstLabels: labels,
		}, []string{"provider", "outcome"}),
		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "events_appended_total", Help: "Domain events appended to the event store.", ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RunsStarted,
		m.RunsTerminal,
		m.NodeExecutions,
		m.NodeDuration,
		m.RetriesTotal,
		m.QueueDepth,
		m.TriggersTotal,
		m.WebhooksTotal,
		m.EventsAppended,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
