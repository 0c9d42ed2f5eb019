package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for EventsTotal.
const (
	OutcomeAccepted     = "accepted"
	OutcomeTooLarge     = "too_large"
	OutcomeInvalidJSON  = "invalid_json"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRateLimited  = "rate_limited"
	OutcomeInvalid      = "validation_error"
	OutcomeError        = "error"
)

var (
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_ingest_events_total",
			Help: "Ingestion requests by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	EventBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lightwatch_ingest_event_bytes_total",
			Help: "Total bytes of event data received",
		},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightwatch_ingest_request_duration_seconds",
			Help:    "Ingestion request latency by category",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_ingest_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"category"},
	)

	StoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightwatch_ingest_store_duration_seconds",
			Help:    "Duration of document store writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_ingest_store_errors_total",
			Help: "Failed document store writes",
		},
		[]string{"collection"},
	)

	BrokerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightwatch_ingest_broker_append_duration_seconds",
			Help:    "Duration of stream appends",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream"},
	)

	BrokerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_ingest_broker_errors_total",
			Help: "Failed stream appends",
		},
		[]string{"stream"},
	)

	DualWriteGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_ingest_dual_write_gaps_total",
			Help: "Events written to exactly one of store and broker",
		},
		[]string{"failed_sink"},
	)

	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_ingest_dlq_writes_total",
			Help: "Dead-letter records by outcome",
		},
		[]string{"result"},
	)

	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_ingest_alerts_fired_total",
			Help: "Threshold alerts raised by rule",
		},
		[]string{"rule"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lightwatch_query_request_duration_seconds",
			Help:    "Read API latency by endpoint",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightwatch_query_errors_total",
			Help: "Read API requests that failed in the store",
		},
		[]string{"endpoint"},
	)
)
