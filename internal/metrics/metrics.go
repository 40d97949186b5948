// Package metrics holds the prometheus collectors for the storefront.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shoekart"

type Metrics struct {
	registry *prometheus.Registry

	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Checkouts *prometheus.CounterVec
	Published *prometheus.CounterVec
	Reconcile *prometheus.CounterVec
}

// New registers every collector on a fresh registry, so tests can build as
// many as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by payment method and outcome.",
		}, []string{"method", "outcome"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events sent to Kafka by type and result.",
		}, []string{"event_type", "result"}),
		Reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_actions_total",
			Help:      "Reconciler repairs by action and result.",
		}, []string{"action", "result"}),
	}
	m.registry.MustRegister(
		m.Requests, m.LatencyMS, m.Checkouts, m.Published, m.Reconcile,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by route pattern, so path ids don't blow up
// label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		handler := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			handler = r.Method + " " + rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	})
}

func (m *Metrics) ObserveCheckout(method domain.Method, outcome string) {
	m.Checkouts.WithLabelValues(string(method), outcome).Inc()
}

func (m *Metrics) ObservePublish(eventType string, ok bool) {
	m.Published.WithLabelValues(eventType, result(ok)).Inc()
}

func (m *Metrics) ObserveReconcile(action string, ok bool) {
	m.Reconcile.WithLabelValues(action, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
