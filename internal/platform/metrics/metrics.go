package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	TransfersTotal      *prometheus.CounterVec
	CallbacksDispatched prometheus.Counter
	CallbacksResolved   *prometheus.CounterVec
	SessionsActive      prometheus.Gauge
	QueueDepth          *prometheus.GaugeVec
	ResolveDuration     prometheus.Histogram
	AddressLookups      *prometheus.CounterVec
}

// New creates all Prometheus metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates the metrics on the given registerer. Tests use a private
// registry so repeated construction never collides.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liaison_transfers_total",
			Help: "Transfers processed by outcome (completed, queued, failed)",
		}, []string{"outcome"}),
		CallbacksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "liaison_callbacks_dispatched_total",
			Help: "Inbound requests dispatched to callback sessions",
		}),
		CallbacksResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liaison_callbacks_resolved_total",
			Help: "Pending callbacks resolved by outcome (answered, error, timeout, session_closed)",
		}, []string{"outcome"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "liaison_sessions_active",
			Help: "Callback sessions currently in the active state",
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liaison_queue_depth",
			Help: "Messages held in the retrieval queue by direction",
		}, []string{"direction"}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "liaison_resolve_duration_seconds",
			Help:    "Latency of address resolution including directory round trips",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		AddressLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "liaison_address_lookups_total",
			Help: "Per-address lookup results (found, not_found, ambiguous, error)",
		}, []string{"result"}),
	}
}
