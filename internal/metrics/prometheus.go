package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the steal indexer
type PrometheusMetrics struct {
	// Scanner metrics
	SlotsProcessedTotal    prometheus.Counter
	SlotsSkippedTotal      prometheus.Counter
	SlotProcessingDuration prometheus.Histogram
	LastProcessedSlot      prometheus.Gauge
	SlotsBehind            prometheus.Gauge

	// Classification metrics
	EventsClassifiedTotal *prometheus.CounterVec

	// Queue metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsConsumedTotal  *prometheus.CounterVec
	EventsRequeuedTotal  prometheus.Counter
	DeadLetteredTotal    prometheus.Counter

	// RPC metrics
	RPCRequestsTotal   *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them on the default
// registry
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWith(prometheus.DefaultRegisterer)
}

// NewPrometheusMetricsWith creates all metrics and registers them on reg
func NewPrometheusMetricsWith(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)

	return &PrometheusMetrics{
		// Scanner metrics
		SlotsProcessedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "steal_indexer_slots_processed_total",
				Help: "Total number of slots processed by the scanner",
			},
		),

		SlotsSkippedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "steal_indexer_slots_skipped_total",
				Help: "Total number of slots skipped because the chain produced no block",
			},
		),

		SlotProcessingDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "steal_indexer_slot_processing_duration_seconds",
				Help:    "Time spent processing individual slots",
				Buckets: prometheus.DefBuckets,
			},
		),

		LastProcessedSlot: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "steal_indexer_last_processed_slot",
				Help: "Latest slot fully processed by the scanner",
			},
		),

		SlotsBehind: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "steal_indexer_slots_behind",
				Help: "Number of slots between the scan cursor and the chain tip",
			},
		),

		// Classification metrics
		EventsClassifiedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steal_indexer_events_classified_total",
				Help: "Total number of program transactions classified, by operation kind",
			},
			[]string{"kind"},
		),

		// Queue metrics
		EventsPublishedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steal_indexer_events_published_total",
				Help: "Total number of messages published, by queue",
			},
			[]string{"queue"},
		),

		EventsConsumedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steal_indexer_events_consumed_total",
				Help: "Total number of messages consumed, by queue and outcome",
			},
			[]string{"queue", "status"},
		),

		EventsRequeuedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "steal_indexer_events_requeued_total",
				Help: "Total number of ingestion events nacked back onto the queue",
			},
		),

		DeadLetteredTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "steal_indexer_dead_lettered_total",
				Help: "Total number of pending uploads expired into the dead letter queue",
			},
		),

		// RPC metrics
		RPCRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steal_indexer_rpc_requests_total",
				Help: "Total number of RPC requests made to Solana nodes",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steal_indexer_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to Solana nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		// Storage metrics
		DatabaseOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steal_indexer_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steal_indexer_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		// Notification metrics
		NotificationsSentTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steal_indexer_notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"channel", "kind"},
		),

		NotificationFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steal_indexer_notification_failures_total",
				Help: "Total number of failed notification sends",
			},
			[]string{"channel"},
		),

		// API metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steal_indexer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steal_indexer_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Application health metrics
		ApplicationUptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "steal_indexer_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "steal_indexer_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "steal_indexer_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "steal_indexer_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordSlotProcessed records a fully processed slot
func (m *PrometheusMetrics) RecordSlotProcessed(duration time.Duration) {
	m.SlotsProcessedTotal.Inc()
	m.SlotProcessingDuration.Observe(duration.Seconds())
}

// UpdateCursorSlot updates the last fully committed scan position
func (m *PrometheusMetrics) UpdateCursorSlot(slot int64) {
	m.LastProcessedSlot.Set(float64(slot))
}

// RecordSlotSkipped records a skipped slot
func (m *PrometheusMetrics) RecordSlotSkipped() {
	m.SlotsSkippedTotal.Inc()
}

// UpdateSlotsBehind updates the catch-up distance metric
func (m *PrometheusMetrics) UpdateSlotsBehind(behind uint64) {
	m.SlotsBehind.Set(float64(behind))
}

// RecordEventClassified records a classified program transaction
func (m *PrometheusMetrics) RecordEventClassified(kind string) {
	m.EventsClassifiedTotal.WithLabelValues(kind).Inc()
}

// RecordEventPublished records a published queue message
func (m *PrometheusMetrics) RecordEventPublished(queue string) {
	m.EventsPublishedTotal.WithLabelValues(queue).Inc()
}

// RecordEventConsumed records a consumed queue message
func (m *PrometheusMetrics) RecordEventConsumed(queue, status string) {
	m.EventsConsumedTotal.WithLabelValues(queue, status).Inc()
}

// RecordEventRequeued records an event nacked back onto the queue
func (m *PrometheusMetrics) RecordEventRequeued() {
	m.EventsRequeuedTotal.Inc()
}

// RecordDeadLettered records a pending upload expiring into the DLQ
func (m *PrometheusMetrics) RecordDeadLettered() {
	m.DeadLetteredTotal.Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(channel, kind string) {
	m.NotificationsSentTotal.WithLabelValues(channel, kind).Inc()
}

// RecordNotificationFailure records a failed notification send
func (m *PrometheusMetrics) RecordNotificationFailure(channel string) {
	m.NotificationFailuresTotal.WithLabelValues(channel).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
