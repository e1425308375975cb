package metrics

import (
	"net/http"

	"eventdedup/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventdedup"

// Metrics holds service collectors on a private registry.
// Params: none; collectors are created and registered by New.
// Returns: instrumentation handle shared by router, pool, sweeper, and ingest.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal      *prometheus.CounterVec
	ingestTotal      *prometheus.CounterVec
	actionsTotal     *prometheus.CounterVec
	actionDuration   *prometheus.HistogramVec
	dedupEntries     prometheus.Gauge
	sweepEvicted     prometheus.Counter
	dispatchQueue    prometheus.Gauge
	dispatchInFlight prometheus.Gauge
	auditDropped     prometheus.Counter
	auditSinkErrors  *prometheus.CounterVec
	catalogDevices   prometheus.Gauge
}

// New creates collectors and registers them with Go/process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Processed events by router decision.",
		}, []string{"decision"}),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Ingested payloads by transport and result.",
		}, []string{"transport", "result"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Dispatched actions by name and status.",
		}, []string{"action", "status"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Action executor latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		dedupEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dedup_entries",
			Help:      "Dedup windows held in store after last sweep.",
		}),
		sweepEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_evicted_total",
			Help:      "Dedup windows evicted by sweeper.",
		}),
		dispatchQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Jobs waiting in dispatch queue.",
		}),
		dispatchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_in_flight",
			Help:      "Jobs currently dispatched by workers.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit records dropped because buffer was full.",
		}),
		auditSinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_sink_errors_total",
			Help:      "Audit sink write failures.",
		}, []string{"sink"}),
		catalogDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_devices",
			Help:      "Devices in active catalog snapshot.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsTotal,
		m.ingestTotal,
		m.actionsTotal,
		m.actionDuration,
		m.dedupEntries,
		m.sweepEvicted,
		m.dispatchQueue,
		m.dispatchInFlight,
		m.auditDropped,
		m.auditSinkErrors,
		m.catalogDevices,
	)
	return m
}

// Registry exposes underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDecision counts one router decision.
func (m *Metrics) ObserveDecision(kind domain.DecisionKind) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(kind)).Inc()
}

// ObserveIngest counts one ingest payload result.
func (m *Metrics) ObserveIngest(transport, result string) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(transport, result).Inc()
}

// ObserveDispatch records per-action outcomes.
func (m *Metrics) ObserveDispatch(result domain.DispatchResult) {
	if m == nil {
		return
	}
	for _, outcome := range result.Outcomes {
		m.actionsTotal.WithLabelValues(outcome.Action, string(outcome.Status)).Inc()
		if outcome.Status != domain.ActionAborted {
			m.actionDuration.WithLabelValues(outcome.Action).Observe(outcome.Duration.Seconds())
		}
	}
}

// ObserveSweep records sweeper pass.
func (m *Metrics) ObserveSweep(evicted, remaining int) {
	if m == nil {
		return
	}
	m.sweepEvicted.Add(float64(evicted))
	m.dedupEntries.Set(float64(remaining))
}

// SetDispatchLoad records pool queue depth and in-flight count.
func (m *Metrics) SetDispatchLoad(queued, inFlight int) {
	if m == nil {
		return
	}
	m.dispatchQueue.Set(float64(queued))
	m.dispatchInFlight.Set(float64(inFlight))
}

// AuditDropped counts dropped audit record.
func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

// AuditSinkError counts failed sink write.
func (m *Metrics) AuditSinkError(sink string) {
	if m == nil {
		return
	}
	m.auditSinkErrors.WithLabelValues(sink).Inc()
}

// SetCatalogDevices records catalog size.
func (m *Metrics) SetCatalogDevices(n int) {
	if m == nil {
		return
	}
	m.catalogDevices.Set(float64(n))
}
