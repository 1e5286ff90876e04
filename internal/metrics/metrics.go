// Package metrics provides Prometheus instrumentation for the bureau contract host.
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
	// InvocationsTotal counts contract invocations by function and result code.
	InvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_invocations_total",
		Help: "Total contract invocations",
	}, []string{"function", "code"})

	// InvocationLatency tracks invocation latency, including commit.
	InvocationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bureau_invocation_latency_seconds",
		Help:    "Contract invocation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"function"})

	// BetsTotal counts recorded bets; counted is false for bets on
	// undefined options.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_bets_total",
		Help: "Total bets recorded",
	}, []string{"counted"})

	// BetVolume tracks cumulative staked amount per token.
	BetVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_bet_volume_total",
		Help: "Cumulative staked amount",
	}, []string{"token"})

	// SettlementsTotal counts settlement attempts by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_settlements_total",
		Help: "Settlement attempts by outcome",
	}, []string{"outcome"})

	// PayoutsTotal counts payout transfers, partitioned into paid and dust.
	PayoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_payouts_total",
		Help: "Payouts computed at settlement",
	}, []string{"kind"})

	// PayoutVolume tracks cumulative net payout per token.
	PayoutVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_payout_volume_total",
		Help: "Cumulative net payout amount",
	}, []string{"token"})

	// GasCollected tracks cumulative settlement fees per token.
	GasCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_gas_collected_total",
		Help: "Cumulative settlement fees withheld",
	}, []string{"token"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bureau_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsPublished counts events published to the message bus.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_events_published_total",
		Help: "Committed invocation events published",
	}, []string{"type", "status"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bureau_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bureau_http_request_duration_seconds",
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

		// Route pattern keeps the path label bounded.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
