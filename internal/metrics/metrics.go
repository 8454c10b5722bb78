// Package metrics exposes Prometheus instrumentation for the pulse
// pipeline and its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightpulse_ticks_total",
			Help: "Total number of scheduler ticks dispatched.",
		},
	)

	PulsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightpulse_pulses_total",
			Help: "Total number of pulses generated.",
		},
	)

	SyncFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightpulse_time_sync_failures_total",
			Help: "Total number of failed reference clock syncs.",
		},
	)

	FeedFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightpulse_feed_fetches_total",
			Help: "Feed fetch outcomes.",
		},
		[]string{"outcome"},
	)

	UnknownSunsetTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightpulse_unknown_sunset_total",
			Help: "Aircraft omitted because no sunset grid covers their position.",
		},
	)

	TickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nightpulse_tick_duration_seconds",
			Help:    "Time spent processing one tick.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nightpulse_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nightpulse_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		PulsesTotal,
		SyncFailuresTotal,
		FeedFetchesTotal,
		UnknownSunsetTotal,
		TickDurationSeconds,
		httpRequestsTotal,
		httpDurationSeconds,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.URL.Path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(duration)
	})
}
