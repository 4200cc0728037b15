package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Ingest metrics
	SubmissionsAccepted   prometheus.Counter
	SubmissionsRejected   *prometheus.CounterVec
	SubmissionsDuplicated prometheus.Counter
	IngestLatency         prometheus.Histogram

	// Queue metrics
	JobsEnqueued *prometheus.CounterVec
	JobsConsumed *prometheus.CounterVec

	// Delivery metrics
	DeliveriesDispatched prometheus.Counter
	DeliveryAttempts     *prometheus.CounterVec
	DeliveryLatency      prometheus.Histogram
	DeliveriesDeadLetter prometheus.Counter
	RetriesScheduled     prometheus.Counter
}

// New creates and registers all application metrics
func New(namespace string) *Metrics {
	return NewWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewWithRegisterer allows tests to use an isolated registry.
func NewWithRegisterer(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SubmissionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_accepted_total",
			Help:      "Total number of submissions accepted by the ingest endpoint",
		}),
		SubmissionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_rejected_total",
			Help:      "Total number of rejected submissions",
		}, []string{"code"}),
		SubmissionsDuplicated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_duplicated_total",
			Help:      "Total number of idempotency-key replays served from the store",
		}),
		IngestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent processing an ingest request",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		}, []string{"queue"}),
		JobsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_consumed_total",
			Help:      "Total number of jobs consumed",
		}, []string{"queue", "status"}),
		DeliveriesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dispatched_total",
			Help:      "Total number of delivery rows fanned out by the dispatcher",
		}),
		DeliveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Total number of delivery attempts by outcome",
		}, []string{"outcome"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent sending one delivery attempt",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		DeliveriesDeadLetter: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dead_letter_total",
			Help:      "Total number of deliveries moved to the dead letter store",
		}),
		RetriesScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_retries_scheduled_total",
			Help:      "Total number of retries scheduled by the backoff policy",
		}),
	}
}
