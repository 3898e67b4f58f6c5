package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons recorded on the events_dropped counter.
const (
	dropOversize       = "oversize"
	dropOverflow       = "overflow"
	dropRetryExhausted = "retry_exhausted"
	dropBreakerOpen    = "breaker_open"
)

// Metrics holds the transport's Prometheus instruments. Each transport owns
// its own registry by default so that multiple SDK instances in one process
// never collide on registration.
type Metrics struct {
	EventsQueued   *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	QueueHighWater prometheus.Counter
	QueueWait      prometheus.Histogram
	BatchesSent    *prometheus.CounterVec
	SendRetries    prometheus.Counter
}

// NewMetrics creates the transport metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dewdrop_events_queued_total",
				Help: "Total number of events accepted into the queue",
			},
			[]string{"type"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dewdrop_events_dropped_total",
				Help: "Total number of events dropped before delivery",
			},
			[]string{"reason"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dewdrop_queue_depth",
				Help: "Current number of events waiting in the queue",
			},
		),
		QueueHighWater: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dewdrop_queue_high_water_total",
				Help: "Times the queue crossed 80% of its capacity",
			},
		),
		QueueWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dewdrop_queue_wait_seconds",
				Help:    "Time events spent queued before a flush drained them",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
		BatchesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dewdrop_batches_sent_total",
				Help: "Batches delivered successfully, by endpoint",
			},
			[]string{"endpoint"},
		),
		SendRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dewdrop_send_retries_total",
				Help: "Individual send attempts that were retried",
			},
		),
	}
}
