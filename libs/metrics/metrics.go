// Package metrics holds the Prometheus instruments of the scheduling service.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	gatherer prometheus.Gatherer

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge

	BookingsTotal        *prometheus.CounterVec
	BookingDuration      prometheus.Histogram
	ConflictsTotal       *prometheus.CounterVec
	TransitionsTotal     *prometheus.CounterVec
	NotificationFailures prometheus.Counter
	OutboxPublished      prometheus.Counter
}

// NewCollector registers all instruments on reg. Pass prometheus.NewRegistry()
// in tests so repeated construction does not collide.
func NewCollector(reg *prometheus.Registry, namespace string) *Collector {
	f := promauto.With(reg)
	return &Collector{
		gatherer: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Requests currently being served.",
		}),

		BookingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking pipeline runs by operation and outcome (ok or the error kind).",
		}, []string{"operation", "outcome"}),

		BookingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "booking_duration_seconds",
			Help:      "Wall time of the booking transaction, commit included.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),

		ConflictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "conflicts_total",
			Help:      "Double-booking attempts rejected, by resource kind.",
		}, []string{"resource"}),

		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "status_transitions_total",
			Help:      "Appointment status changes.",
		}, []string{"from", "to"}),

		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduling",
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be handed off. Bookings are unaffected.",
		}),

		OutboxPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events written to Kafka.",
		}),
	}
}

func (c *Collector) Handler() http.Handler {
	if c == nil || c.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveBooking(operation, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.BookingsTotal.WithLabelValues(operation, outcome).Inc()
	if operation == "book" {
		c.BookingDuration.Observe(elapsed.Seconds())
	}
}

func (c *Collector) Conflict(resource string) {
	if c == nil {
		return
	}
	c.ConflictsTotal.WithLabelValues(resource).Inc()
}

func (c *Collector) Transition(from, to string) {
	if c == nil {
		return
	}
	c.TransitionsTotal.WithLabelValues(from, to).Inc()
}

func (c *Collector) NotificationFailed() {
	if c == nil {
		return
	}
	c.NotificationFailures.Inc()
}

func (c *Collector) Published(n int) {
	if c == nil {
		return
	}
	c.OutboxPublished.Add(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency. route should be the
// registered pattern, not the raw path, to keep label cardinality bounded.
func (c *Collector) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			c.InFlight.Inc()
			defer c.InFlight.Dec()

			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			c.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
			c.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
