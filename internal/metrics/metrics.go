// Package metrics exposes Prometheus instrumentation for the HTTP surface and
// the booking domain.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jorgekeles/sistema-barberia/internal/httpx"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	BookingsConfirmed prometheus.Counter
	BookingsReplayed  prometheus.Counter
	SlotConflicts     prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern, and status.",
		}, []string{"method", "pattern", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "pattern"}),
		BookingsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookings_confirmed_total",
			Help: "Appointments confirmed.",
		}),
		BookingsReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookings_replayed_total",
			Help: "Booking responses replayed from an idempotency key.",
		}),
		SlotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_slot_conflicts_total",
			Help: "Bookings refused because the slot was taken.",
		}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.BookingsConfirmed, m.BookingsReplayed, m.SlotConflicts)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records counts and latency under a fixed route pattern. Applied
// per route at registration so path parameters don't explode cardinality.
func (m *Metrics) Instrument(pattern string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			m.httpRequests.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
