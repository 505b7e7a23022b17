package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	unmatched   = "unmatched"
	eventsRoute = "/v1/tasks/{id}/events"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnstile_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnstile_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	sseStreamsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnstile_sse_streams_open",
			Help: "Number of task event streams currently connected.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(sseStreamsOpen)
}

// metricsMiddleware records request count and duration for every HTTP request,
// labelled by chi route pattern so task ids never become label values.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		// Event streams stay open until the task ends.
		if path != eventsRoute {
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
