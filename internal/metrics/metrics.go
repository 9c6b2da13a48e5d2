package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry        *prometheus.Registry
	operations      *prometheus.CounterVec
	txRetries       prometheus.Counter
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	stockAlerts     *prometheus.GaugeVec
	sseClients      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockflow",
			Name:      "operations_total",
			Help:      "Stock engine operations by name and outcome kind.",
		}, []string{"operation", "outcome"}),
		txRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockflow",
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a write conflict.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockflow",
			Name:      "events_published_total",
			Help:      "Events handed to the event bus by type.",
		}, []string{"type"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stockflow",
			Name:      "events_dropped_total",
			Help:      "Events not delivered to a slow subscriber.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stockflow",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stockflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		stockAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stockflow",
			Name:      "stock_alert_rows",
			Help:      "Stock rows in an alert state per location, from the last sweep.",
		}, []string{"location", "kind"}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stockflow",
			Name:      "sse_clients",
			Help:      "Connected event stream clients.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.txRetries,
		m.eventsPublished,
		m.eventsDropped,
		m.httpRequests,
		m.httpDuration,
		m.stockAlerts,
		m.sseClients,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Operation(name, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) TxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Metrics) HTTPRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// SetStockAlerts records the latest sweep result for one location.
func (m *Metrics) SetStockAlerts(location string, low, out, expired int) {
	if m == nil {
		return
	}
	m.stockAlerts.WithLabelValues(location, "low_stock").Set(float64(low))
	m.stockAlerts.WithLabelValues(location, "out_of_stock").Set(float64(out))
	m.stockAlerts.WithLabelValues(location, "expired").Set(float64(expired))
}

func (m *Metrics) SSEClients(n int) {
	if m == nil {
		return
	}
	m.sseClients.Set(float64(n))
}
