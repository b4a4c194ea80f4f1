// Package metrics provides the Prometheus metrics the ingestion core
// exposes: webhook request counts/latency, vendor fetch outcomes,
// pipeline stage throughput, persistence batch results and notification
// delivery. Adapted from the teacher's infrastructure/metrics package
// (same CounterVec/HistogramVec/Gauge shape and MustRegister-on-construct
// pattern); the blockchain/database-pool specific collectors there have no
// home in this domain and are replaced with vendor/pipeline/notification
// ones instead.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cleanfleet/telemetry-core/internal/runtime"
)

// Metrics holds every Prometheus collector the ingestion core registers.
type Metrics struct {
	// Webhook Ingress
	WebhookRequestsTotal   *prometheus.CounterVec
	WebhookRequestDuration *prometheus.HistogramVec

	// Vendor fetches (the Poller and the guarded adapter wrapper)
	VendorFetchTotal    *prometheus.CounterVec
	VendorFetchDuration *prometheus.HistogramVec
	CircuitBreakerOpen  *prometheus.GaugeVec

	// Pipeline stages
	PipelineRecordsTotal   *prometheus.CounterVec
	PipelineDroppedTotal   *prometheus.CounterVec
	ChangeDetectTriggerTotal *prometheus.CounterVec

	// Persistence
	StoreUpsertTotal    *prometheus.CounterVec
	StoreUpsertDuration *prometheus.HistogramVec
	StoreUpsertDropped  *prometheus.CounterVec

	// Notification
	NotificationDeliveredTotal  *prometheus.CounterVec
	NotificationSuppressedTotal *prometheus.CounterVec

	// Poller
	PollerTickDuration *prometheus.HistogramVec
	PollerSkippedTotal *prometheus.CounterVec
	PollerInFlight     prometheus.Gauge

	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance registered against prometheus's default
// registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// Passing a nil registerer builds the collectors without registering them,
// for tests that construct throwaway Metrics values.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhookRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_requests_total",
				Help: "Total inbound webhook requests by vendor and outcome status code",
			},
			[]string{"vendor", "status"},
		),
		WebhookRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_request_duration_seconds",
				Help:    "Webhook request handling duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"vendor"},
		),

		VendorFetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vendor_fetch_total",
				Help: "Total vendor API fetches by tenant, vendor, record kind and outcome",
			},
			[]string{"tenant", "vendor", "kind", "status"},
		),
		VendorFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vendor_fetch_duration_seconds",
				Help:    "Vendor API fetch duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tenant", "vendor", "kind"},
		),
		CircuitBreakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vendor_circuit_breaker_open",
				Help: "1 if the (tenant, vendor) circuit breaker is open, else 0",
			},
			[]string{"tenant", "vendor"},
		),

		PipelineRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_records_total",
				Help: "Total records that reached the pipeline, by record kind and classification",
			},
			[]string{"kind", "classification"},
		),
		PipelineDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_records_dropped_total",
				Help: "Total records dropped before storage, by record kind and drop reason",
			},
			[]string{"kind", "reason"},
		),
		ChangeDetectTriggerTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "change_detect_triggers_total",
				Help: "Total notification triggers raised by change detection, by trigger type",
			},
			[]string{"trigger"},
		),

		StoreUpsertTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_upsert_total",
				Help: "Total persistence upsert batches, by table and outcome",
			},
			[]string{"table", "status"},
		),
		StoreUpsertDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_upsert_duration_seconds",
				Help:    "Persistence upsert batch duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"table"},
		),
		StoreUpsertDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_upsert_rows_dropped_total",
				Help: "Total rows dropped by the retry-then-drop policy, by table",
			},
			[]string{"table"},
		),

		NotificationDeliveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_delivered_total",
				Help: "Total notifications delivered, by trigger type and outcome",
			},
			[]string{"trigger", "status"},
		),
		NotificationSuppressedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_suppressed_total",
				Help: "Total notifications suppressed by the suppression window, by trigger type",
			},
			[]string{"trigger"},
		),

		PollerTickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poller_tick_duration_seconds",
				Help:    "Poller run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		PollerSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "poller_ticks_skipped_total",
				Help: "Total poller ticks skipped, by reason",
			},
			[]string{"reason"},
		),
		PollerInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "poller_fetch_groups_in_flight",
				Help: "Current number of (tenant, vendor) fetch groups being processed",
			},
		),

		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service build/environment information",
			},
			[]string{"service", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.WebhookRequestsTotal,
			m.WebhookRequestDuration,
			m.VendorFetchTotal,
			m.VendorFetchDuration,
			m.CircuitBreakerOpen,
			m.PipelineRecordsTotal,
			m.PipelineDroppedTotal,
			m.ChangeDetectTriggerTotal,
			m.StoreUpsertTotal,
			m.StoreUpsertDuration,
			m.StoreUpsertDropped,
			m.NotificationDeliveredTotal,
			m.NotificationSuppressedTotal,
			m.PollerTickDuration,
			m.PollerSkippedTotal,
			m.PollerInFlight,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, string(runtime.Env())).Set(1)

	return m
}

// RecordWebhookRequest records one handled webhook request.
func (m *Metrics) RecordWebhookRequest(vendor, status string, duration time.Duration) {
	m.WebhookRequestsTotal.WithLabelValues(vendor, status).Inc()
	m.WebhookRequestDuration.WithLabelValues(vendor).Observe(duration.Seconds())
}

// RecordVendorFetch records one vendor API call.
func (m *Metrics) RecordVendorFetch(tenant, vendor, kind, status string, duration time.Duration) {
	m.VendorFetchTotal.WithLabelValues(tenant, vendor, kind, status).Inc()
	m.VendorFetchDuration.WithLabelValues(tenant, vendor, kind).Observe(duration.Seconds())
}

// SetCircuitBreakerOpen reflects a (tenant, vendor) circuit breaker's state.
func (m *Metrics) SetCircuitBreakerOpen(tenant, vendor string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.CircuitBreakerOpen.WithLabelValues(tenant, vendor).Set(v)
}

// RecordPipelineRecord records one record's change-detection classification
// (created/changed/unchanged) as it passes through the pipeline.
func (m *Metrics) RecordPipelineRecord(kind, classification string) {
	m.PipelineRecordsTotal.WithLabelValues(kind, classification).Inc()
}

// RecordPipelineDrop records one record rejected before storage.
func (m *Metrics) RecordPipelineDrop(kind, reason string) {
	m.PipelineDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordChangeDetectTrigger records one notification trigger raised.
func (m *Metrics) RecordChangeDetectTrigger(trigger string) {
	m.ChangeDetectTriggerTotal.WithLabelValues(trigger).Inc()
}

// RecordStoreUpsert records one persistence batch outcome.
func (m *Metrics) RecordStoreUpsert(table, status string, duration time.Duration) {
	m.StoreUpsertTotal.WithLabelValues(table, status).Inc()
	m.StoreUpsertDuration.WithLabelValues(table).Observe(duration.Seconds())
}

// RecordStoreUpsertDropped records rows dropped by the retry-then-drop policy.
func (m *Metrics) RecordStoreUpsertDropped(table string, count int) {
	m.StoreUpsertDropped.WithLabelValues(table).Add(float64(count))
}

// RecordNotification records one notification delivery attempt's outcome.
func (m *Metrics) RecordNotification(trigger, status string) {
	m.NotificationDeliveredTotal.WithLabelValues(trigger, status).Inc()
}

// RecordNotificationSuppressed records one notification suppressed by the
// suppression window.
func (m *Metrics) RecordNotificationSuppressed(trigger string) {
	m.NotificationSuppressedTotal.WithLabelValues(trigger).Inc()
}

// RecordPollerTick records one completed (or skipped) poller run.
func (m *Metrics) RecordPollerTick(outcome string, duration time.Duration) {
	m.PollerTickDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordPollerSkipped records one poller tick skipped without running.
func (m *Metrics) RecordPollerSkipped(reason string) {
	m.PollerSkippedTotal.WithLabelValues(reason).Inc()
}

// SetPollerInFlight sets the current fetch-group in-flight gauge.
func (m *Metrics) SetPollerInFlight(n int) {
	m.PollerInFlight.Set(float64(n))
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes (once) and returns the process-wide Metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(serviceName)
	}
	return global
}

// Global returns the process-wide Metrics instance, initializing it with a
// placeholder name if Init has not yet run.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("fleet-ingestor")
	}
	return global
}
