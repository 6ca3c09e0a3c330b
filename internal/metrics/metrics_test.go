package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLockAcquireTotal(t *testing.T) {
	LockAcquireTotal.WithLabelValues("room:abc", "acquired").Inc()
	val := testutil.ToFloat64(LockAcquireTotal.WithLabelValues("room:abc", "acquired"))
	if val < 1 {
		t.Errorf("expected LockAcquireTotal to be at least 1, got %v", val)
	}
}

func TestSchedulerIsLeaderGauge(t *testing.T) {
	SchedulerIsLeader.WithLabelValues("room-gc").Set(1)
	val := testutil.ToFloat64(SchedulerIsLeader.WithLabelValues("room-gc"))
	if val != 1 {
		t.Errorf("expected SchedulerIsLeader to be 1, got %v", val)
	}
	SchedulerIsLeader.WithLabelValues("room-gc").Set(0)
	val = testutil.ToFloat64(SchedulerIsLeader.WithLabelValues("room-gc"))
	if val != 0 {
		t.Errorf("expected SchedulerIsLeader to be 0 after losing leadership, got %v", val)
	}
}

func TestRecordingTransitions(t *testing.T) {
	RecordingTransitions.WithLabelValues("STARTING", "ACTIVE").Inc()
	val := testutil.ToFloat64(RecordingTransitions.WithLabelValues("STARTING", "ACTIVE"))
	if val < 1 {
		t.Errorf("expected RecordingTransitions to be at least 1, got %v", val)
	}
}

func TestWebhookDeliveryDuration(t *testing.T) {
	WebhookDeliveryDuration.WithLabelValues("room.started").Observe(0.25)
}

func TestCircuitBreakerStateValue(t *testing.T) {
	cases := map[string]float64{
		"closed":    0,
		"half-open": 1,
		"open":      2,
		"unknown":   -1,
	}
	for name, want := range cases {
		if got := CircuitBreakerStateValue(name); got != want {
			t.Errorf("CircuitBreakerStateValue(%q) = %v, want %v", name, got, want)
		}
	}
}
