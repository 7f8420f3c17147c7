// Package metrics provides Prometheus instrumentation for the vault engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruscet/vault-engine/internal/model"
)

var (
	// OperationsTotal counts vault operations by name and outcome kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_operations_total",
		Help: "Total number of vault operations, by result",
	}, []string{"op", "result"})

	// OperationLatency tracks engine execution time per operation.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_operation_latency_seconds",
		Help:    "Vault operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// EventsTotal counts journaled events by type.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_events_total",
		Help: "Total number of journaled vault events",
	}, []string{"type"})

	// PoolAmount tracks the pooled token amount per asset.
	PoolAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vault_pool_amount",
		Help: "Pooled token amount per asset",
	}, []string{"asset"})

	// ReservedAmount tracks tokens reserved for open positions per asset.
	ReservedAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vault_reserved_amount",
		Help: "Reserved token amount per asset",
	}, []string{"asset"})

	// NetAssetValue tracks the last computed NAV in USD.
	NetAssetValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_net_asset_value_usd",
		Help: "Last computed net asset value of the pool in USD",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveOperation records one engine call.
func ObserveOperation(op, result string, started time.Time) {
	OperationsTotal.WithLabelValues(op, result).Inc()
	OperationLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveChangeSet updates the pool gauges and event counters from one
// committed operation.
func ObserveChangeSet(cs *model.ChangeSet, events []model.Event) {
	if cs != nil {
		for _, p := range cs.Pools {
			PoolAmount.WithLabelValues(p.Asset).Set(p.PoolAmount.InexactFloat64())
			ReservedAmount.WithLabelValues(p.Asset).Set(p.ReservedAmount.InexactFloat64())
		}
	}
	for _, e := range events {
		EventsTotal.WithLabelValues(e.Type).Inc()
	}
}

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
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
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
