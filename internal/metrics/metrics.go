package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics holds the relay's Prometheus collectors. All methods are safe on a
// nil receiver so components can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	repliesAccepted    *prometheus.CounterVec
	repliesRejected    *prometheus.CounterVec
	attachmentsSkipped *prometheus.CounterVec
	fetches            *prometheus.CounterVec
	delivered          prometheus.Counter
	corruptEntries     prometheus.Counter
	storeLatency       *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	dispatches         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		repliesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_accepted_total",
			Help:      "Replies accepted by the ingress, by delivery mode.",
		}, []string{"mode"}),
		repliesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_rejected_total",
			Help:      "Replies rejected by the ingress, by reason.",
		}, []string{"reason"}),
		attachmentsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_skipped_total",
			Help:      "Inline attachments dropped during validation, by reason.",
		}, []string{"reason"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_fetches_total",
			Help:      "Mailbox fetch calls, by result.",
		}, []string{"result"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_delivered_total",
			Help:      "Replies handed to consumers through fetch or stream.",
		}),
		corruptEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mailbox_corrupt_entries_total",
			Help:      "Stored mailbox values discarded because they could not be decoded.",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mailbox_store_duration_seconds",
			Help:      "Mailbox store round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_dispatches_total",
			Help:      "Outbound messages dispatched to the workflow engine, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.repliesAccepted,
		m.repliesRejected,
		m.attachmentsSkipped,
		m.fetches,
		m.delivered,
		m.corruptEntries,
		m.storeLatency,
		m.httpRequests,
		m.httpDuration,
		m.dispatches,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ReplyAccepted(mode string) {
	if m == nil {
		return
	}
	m.repliesAccepted.WithLabelValues(mode).Inc()
}

func (m *Metrics) ReplyRejected(reason string) {
	if m == nil {
		return
	}
	m.repliesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) AttachmentSkipped(reason string) {
	if m == nil {
		return
	}
	m.attachmentsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Fetch(result string, delivered int) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.delivered.Add(float64(delivered))
}

func (m *Metrics) Delivered(n int) {
	if m == nil {
		return
	}
	m.delivered.Add(float64(n))
}

func (m *Metrics) CorruptEntry() {
	if m == nil {
		return
	}
	m.corruptEntries.Inc()
}

func (m *Metrics) ObserveStore(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeLatency.WithLabelValues(op, result).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveHTTP(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) Dispatch(result string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(result).Inc()
}
