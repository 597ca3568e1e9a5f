// Package metrics exposes prometheus gauges/counters for the gateway's
// queues, worker pool, handle pool and recovery supervisor, mounted by the
// daemon at /metrics via the HTTP transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tutu-network/infergate/internal/domain"
)

// Registry holds every metric the gateway exports. A single instance is
// built at startup and threaded through the components that update it.
type Registry struct {
	RequestQueueDepth  prometheus.Gauge
	ResponseQueueDepth prometheus.Gauge
	HandlePoolOccupied prometheus.Gauge
	HTTPBufferCount    prometheus.Gauge
	WorkerBusy         prometheus.Gauge

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RecoveryState   *prometheus.GaugeVec
	StreamChunksTotal prometheus.Counter
}

// NewRegistry registers every metric against reg (pass
// prometheus.NewRegistry() for isolated tests, or prometheus.DefaultRegisterer
// in production).
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		RequestQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "infergate",
			Name:      "request_queue_depth",
			Help:      "Number of items currently queued for dispatch.",
		}),
		ResponseQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "infergate",
			Name:      "response_queue_depth",
			Help:      "Number of formatted responses waiting to be pushed to transports.",
		}),
		HandlePoolOccupied: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "infergate",
			Name:      "handle_pool_occupied",
			Help:      "Number of active handle-pool slots out of MAX_HANDLES.",
		}),
		HTTPBufferCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "infergate",
			Name:      "http_buffer_count",
			Help:      "Number of live poll-transport buffer records.",
		}),
		WorkerBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "infergate",
			Name:      "worker_busy",
			Help:      "Number of worker goroutines currently dispatching a request.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infergate",
			Name:      "requests_total",
			Help:      "Total JSON-RPC requests dispatched, labeled by method and outcome.",
		}, []string{"method", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "infergate",
			Name:      "request_duration_seconds",
			Help:      "Dispatch latency per method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RecoveryState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "infergate",
			Name:      "recovery_state",
			Help:      "Recovery supervisor state per transport (0=idle,1=active,2=failed,3=success).",
		}, []string{"transport"}),
		StreamChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "infergate",
			Name:      "stream_chunks_total",
			Help:      "Total streaming chunks emitted across all requests.",
		}),
	}
}

// ObserveRecovery records a transport's current recovery state for export.
func (r *Registry) ObserveRecovery(transport domain.TransportKind, state domain.RecoveryState) {
	r.RecoveryState.WithLabelValues(transport.String()).Set(float64(state))
}

// ObserveInvocation records a completed dispatch's outcome and latency.
func (r *Registry) ObserveInvocation(method string, ok bool, seconds float64) {
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	r.RequestsTotal.WithLabelValues(method, outcome).Inc()
	r.RequestDuration.WithLabelValues(method).Observe(seconds)
}
