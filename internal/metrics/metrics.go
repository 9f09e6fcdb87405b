package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airguard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airguard_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "route"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airguard_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "route"},
	)

	// Ingestion
	MeasurementsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_measurements_ingested_total",
			Help: "Total number of measurements persisted",
		},
		[]string{"source"}, // api, sensor
	)

	IngestValidationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_ingest_validation_errors_total",
			Help: "Total number of rejected uploads",
		},
		[]string{"error_type"},
	)

	// Fetch cycle metrics
	FetchCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_fetch_cycles_total",
			Help: "Fetch cycles by result",
		},
		[]string{"result"}, // ok, fetch_failed, persist_failed, evaluate_failed
	)

	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_fetch_errors_total",
			Help: "Upstream fetch failures by kind",
		},
		[]string{"kind"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airguard_fetch_duration_seconds",
			Help:    "Time taken by the upstream AQI request",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Scheduler metrics
	SchedulerDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_scheduler_dropped_total",
			Help: "Firings dropped because a cycle was already in flight",
		},
		[]string{"trigger"}, // timer, manual
	)

	SchedulerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airguard_scheduler_in_flight",
			Help: "Number of fetch cycles currently executing",
		},
	)

	// Alert metrics
	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_alert_transitions_total",
			Help: "Alert lifecycle transitions",
		},
		[]string{"alert_type", "transition"}, // opened, resolved
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_notifications_total",
			Help: "Per-endpoint notification deliveries",
		},
		[]string{"status"}, // success, failed
	)

	EndpointsDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airguard_endpoints_deactivated_total",
			Help: "Endpoints deactivated after a permanent delivery failure",
		},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airguard_worker_queue_size",
			Help: "Current size of the worker queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "airguard_worker_queue_capacity",
			Help: "Capacity of the worker queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airguard_worker_processed_total",
			Help: "Total number of tasks completed by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airguard_worker_failed_total",
			Help: "Total number of tasks that returned an error or panicked",
		},
	)

	WorkerDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airguard_worker_dropped_total",
			Help: "Total number of tasks dropped because the queue stayed full",
		},
	)

	// Event stream metrics
	EventPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_event_publish_total",
			Help: "Alert events published by backend and status",
		},
		[]string{"backend", "status"},
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airguard_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airguard_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airguard_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airguard_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
