package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	PrescriptionsCreated prometheus.Counter
	WorkflowTransitions  *prometheus.CounterVec
	SafetyFindings       *prometheus.CounterVec
	ProviderFailures     *prometheus.CounterVec
	RecordsExpired       prometheus.Counter
	ExpirySweeps         prometheus.Counter
	VersionConflicts     prometheus.Counter

	DBQueryDuration *prometheus.HistogramVec
	DBConnections   prometheus.Gauge

	AuditEntriesTotal  prometheus.Counter
	AuditBufferDropped prometheus.Counter

	EventsPublished      *prometheus.CounterVec
	EventPublishFailures prometheus.Counter
}

func NewCollector(serviceName string) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, serviceName)
}

// NewCollectorWith registers every metric against the given registerer.
// Tests pass their own registry to avoid duplicate registration.
func NewCollectorWith(reg prometheus.Registerer, serviceName string) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		PrescriptionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "workflow",
			Name:      "prescriptions_created_total",
			Help:      "Total prescription records submitted for review.",
		}),

		WorkflowTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow transitions by resulting status.",
		}, []string{"status"}),

		SafetyFindings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "workflow",
			Name:      "safety_findings_total",
			Help:      "Safety findings raised by evaluation, by kind and severity.",
		}, []string{"kind", "severity"}),

		ProviderFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "workflow",
			Name:      "provider_failures_total",
			Help:      "External provider call failures by provider name.",
		}, []string{"provider"}),

		RecordsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "workflow",
			Name:      "records_expired_total",
			Help:      "Prescriptions expired by the sweep.",
		}),

		ExpirySweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "workflow",
			Name:      "expiry_sweeps_total",
			Help:      "Expiry sweep runs.",
		}),

		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "workflow",
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts on save. Sustained growth means reviewers are colliding.",
		}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query latency distribution.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}, []string{"operation", "table"}),

		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "db",
			Name:      "open_connections",
			Help:      "Current number of open database connections.",
		}),

		AuditEntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Total audit log entries written.",
		}),

		AuditBufferDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "buffer_dropped_total",
			Help:      "Audit entries dropped due to full buffer. Alert if non-zero.",
		}),

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Decision events handed to the producer, by event type.",
		}, []string{"event_type"}),

		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Decision events the broker refused. Downstream consumers may be missing data.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
