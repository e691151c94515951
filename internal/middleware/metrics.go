package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the small set of Prometheus collectors this brokerage
// exposes, trimmed from the teacher's infrastructure/metrics package down to
// what a worker or client process actually emits (no database/blockchain
// collectors here).
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RequestsInFlight    prometheus.Gauge
	HeartbeatsSent      prometheus.Counter
	HeartbeatsSkipped   prometheus.Counter
	CircuitBreakerState prometheus.Gauge

	serviceName string
}

// NewMetrics creates a Metrics instance registered against the default
// registerer.
func NewMetrics(serviceName string) *Metrics {
	return NewMetricsWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered against a
// custom registerer, mirroring the teacher's New/NewWithRegistry split.
func NewMetricsWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "troop_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "troop_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "troop_http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		HeartbeatsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "troop_heartbeats_sent_total",
				Help: "Total number of heartbeats sent to the coordinator",
			},
		),
		HeartbeatsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "troop_heartbeats_skipped_total",
				Help: "Total number of heartbeats not delivered (unchanged snapshot, open circuit breaker, or failed send)",
			},
		),
		CircuitBreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "troop_heartbeat_circuit_breaker_state",
				Help: "Heartbeat circuit breaker state: 0=closed, 1=open, 2=half-open",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.HeartbeatsSent,
			m.HeartbeatsSkipped,
			m.CircuitBreakerState,
		)
	}

	m.serviceName = serviceName
	return m
}

func (m *Metrics) observe(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(m.serviceName, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// HTTPMetrics records request count, duration and in-flight gauge for every
// request that passes through it.
func HTTPMetrics(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			m.observe(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}
