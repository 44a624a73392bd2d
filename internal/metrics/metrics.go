// Package metrics provides Prometheus metrics for the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "oracled"

// Metrics holds all Prometheus metrics for the daemon.
type Metrics struct {
	// RPC metrics
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Feed metrics
	UpdatesApplied  prometheus.Counter
	UpdatesRejected prometheus.Counter
	LastUpdateTime  prometheus.Gauge

	// Stream metrics
	WSConnections prometheus.Gauge

	// Store metrics
	SweepRuns    prometheus.Counter
	SweepRemoved prometheus.Counter
}

// New creates a Metrics instance registered against reg. A nil
// registerer falls back to the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of RPC requests by method and status",
		}, []string{"method", "status"}),
		RPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "RPC request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		UpdatesApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "updates_applied_total",
			Help:      "Total number of accepted price updates",
		}),
		UpdatesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "updates_rejected_total",
			Help:      "Total number of rejected price updates",
		}),
		LastUpdateTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix timestamp of the last accepted price update",
		}),

		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "websocket_connections",
			Help:      "Current number of WebSocket subscribers",
		}),

		SweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sweep_runs_total",
			Help:      "Total number of expired-record sweeps",
		}),
		SweepRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "sweep_removed_total",
			Help:      "Total number of expired records removed by sweeps",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
