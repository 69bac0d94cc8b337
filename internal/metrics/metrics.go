// Package metrics provides Prometheus instrumentation for the flow engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ProblemsPublished counts snapshots published by the problem feed.
	ProblemsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowengine_problems_published_total",
		Help: "Total number of problem snapshots published",
	})

	// ConsumersPerProblem is the consumer count of the latest snapshot.
	ConsumersPerProblem = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowengine_consumers",
		Help: "Number of consumers in the current problem",
	})

	// InflowRate is the total flow of the latest snapshot.
	InflowRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowengine_inflow_rate",
		Help: "Total incoming flow per day in the current problem",
	})

	// ResultsTotal counts accepted allocations.
	ResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowengine_results_total",
		Help: "Total number of allocations validated into a result",
	})

	// ProtocolErrors counts error frames sent, partitioned by kind.
	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowengine_protocol_errors_total",
		Help: "Error frames sent to clients",
	}, []string{"kind"})

	// ValuePerDay tracks the value rate of accepted allocations.
	ValuePerDay = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowengine_result_value_per_day",
		Help:    "Total value per day of accepted allocations",
		Buckets: prometheus.ExponentialBuckets(10000, 2, 12),
	})

	// SolveLatency tracks optimizer runs by mode.
	SolveLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowengine_solve_latency_seconds",
		Help:    "Allocation optimizer latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"mode"})

	// WebSocketClients tracks connected WebSocket sessions.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(duration)
	})
}

// routePattern prefers the chi route pattern to keep label cardinality low.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
