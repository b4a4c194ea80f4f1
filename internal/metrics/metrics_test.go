package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("expected metrics instance, got nil")
	}
	if m.WebhookRequestsTotal == nil {
		t.Error("WebhookRequestsTotal should not be nil")
	}
	if m.VendorFetchTotal == nil {
		t.Error("VendorFetchTotal should not be nil")
	}
	if m.StoreUpsertTotal == nil {
		t.Error("StoreUpsertTotal should not be nil")
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Error("expected metrics to be registered")
	}
}

func TestRecordWebhookRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordWebhookRequest("pudu", "200", 100*time.Millisecond)
	m.RecordWebhookRequest("gausium", "400", 10*time.Millisecond)
}

func TestRecordVendorFetch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordVendorFetch("acme", "pudu", "state", "success", 2*time.Second)
	m.RecordVendorFetch("acme", "pudu", "tasks", "failure", 500*time.Millisecond)
}

func TestSetCircuitBreakerOpen(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.SetCircuitBreakerOpen("acme", "pudu", true)
	m.SetCircuitBreakerOpen("acme", "pudu", false)
}

func TestRecordPipelineRecordAndDrop(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordPipelineRecord("robot_state", "created")
	m.RecordPipelineRecord("robot_state", "unchanged")
	m.RecordPipelineDrop("event", "unknown_serial")
}

func TestRecordChangeDetectTrigger(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordChangeDetectTrigger("robot_went_offline")
}

func TestRecordStoreUpsertAndDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordStoreUpsert("robot_state", "success", 50*time.Millisecond)
	m.RecordStoreUpsertDropped("robot_state", 3)
}

func TestRecordNotificationAndSuppressed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordNotification("robot_went_offline", "delivered")
	m.RecordNotificationSuppressed("robot_went_offline")
}

func TestPollerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordPollerTick("completed", 30*time.Second)
	m.RecordPollerSkipped("backpressure")
	m.SetPollerInFlight(4)
	m.SetPollerInFlight(0)
}

func TestGlobal_InitializesOnce(t *testing.T) {
	global = nil
	first := Global()
	second := Global()
	if first != second {
		t.Error("Global should return the same instance across calls")
	}
}
