package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	paymentsCreated  prometheus.Counter
	refundsIssued    prometheus.Counter
	returnsProcessed *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	paymentsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_payments_created_total",
		Help: "Payments recorded in the ledger, refunds included.",
	})
	refundsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_refunds_issued_total",
		Help: "Refund payments minted from resolved refund intents.",
	})
	returnsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_returns_processed_total",
		Help: "Returns processed by terminal status.",
	}, []string{"status"})
	registry.MustRegister(requests, duration, paymentsCreated, refundsIssued, returnsProcessed)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		paymentsCreated:  paymentsCreated,
		refundsIssued:    refundsIssued,
		returnsProcessed: returnsProcessed,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// PaymentCreated increments the payment counter.
func (m *Metrics) PaymentCreated() {
	if m != nil {
		m.paymentsCreated.Inc()
	}
}

// RefundIssued increments the refund counter.
func (m *Metrics) RefundIssued() {
	if m != nil {
		m.refundsIssued.Inc()
	}
}

// ReturnProcessed increments the processed-return counter for a terminal status.
func (m *Metrics) ReturnProcessed(status string) {
	if m != nil {
		m.returnsProcessed.WithLabelValues(status).Inc()
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return r.URL.Path
}
