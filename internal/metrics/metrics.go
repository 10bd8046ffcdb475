// Package metrics provides Prometheus instrumentation for the EasyPoly backend.
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
	// TradesLogged counts bot trades recorded, partitioned by asset and side.
	TradesLogged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easypoly_trades_logged_total",
		Help: "Total number of bot trades logged",
	}, []string{"asset", "side"})

	// TradesResolved counts trade resolutions by outcome.
	TradesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easypoly_trades_resolved_total",
		Help: "Total number of bot trades resolved",
	}, []string{"outcome"})

	// SessionTransitions counts session status changes by target status.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easypoly_session_transitions_total",
		Help: "Bot session status transitions",
	}, []string{"status"})

	// WindowResolutions counts window lookups by result (found, none, error).
	WindowResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easypoly_window_resolutions_total",
		Help: "Market window resolutions by result",
	}, []string{"asset", "result"})

	// PointsAwarded sums points credited, by reason.
	PointsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easypoly_points_awarded_total",
		Help: "Points credited to wallets",
	}, []string{"reason"})

	// RateLimitRejections counts requests denied by the per-IP limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "easypoly_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	})

	// AssistantLatency tracks AI assistant round trips by backend and result.
	AssistantLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easypoly_assistant_latency_seconds",
		Help:    "AI assistant request latency in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"backend", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easypoly_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsPublished counts outbound events by sink and result.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easypoly_events_published_total",
		Help: "Events published to notification sinks",
	}, []string{"sink", "result"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easypoly_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easypoly_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 30.0},
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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

// Hijack passes through to the underlying writer for websocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
