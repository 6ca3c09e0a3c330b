// Package metrics declares the Prometheus metrics exported by every
// component of the control plane.
//
// Naming convention: namespace_subsystem_name
//   - namespace: control_plane (application-level grouping)
//   - subsystem: lock, scheduler, recording, room, webhook, mediaserver,
//     nameres (feature-level grouping)
//   - name: specific metric (acquired_total, state, duration_seconds)
//
// Metric types:
//   - Gauge: current state (active locks, rooms, recordings)
//   - Counter: cumulative events (jobs run, webhooks delivered)
//   - Histogram: latency distributions (lock hold time, delivery duration)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LockAcquireTotal counts mutex acquisition attempts by outcome.
	LockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "lock",
		Name:      "acquire_total",
		Help:      "Total mutex acquisition attempts",
	}, []string{"resource", "outcome"})

	// LockHeldDuration tracks how long a mutex is held before release.
	LockHeldDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "control_plane",
		Subsystem: "lock",
		Name:      "held_duration_seconds",
		Help:      "Duration a mutex was held before release or expiry",
		Buckets:   prometheus.DefBuckets,
	}, []string{"resource"})

	// SchedulerJobRuns counts scheduled job executions by outcome.
	SchedulerJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "scheduler",
		Name:      "job_runs_total",
		Help:      "Total scheduled job executions",
	}, []string{"job", "outcome"})

	// SchedulerIsLeader reports whether this replica currently holds
	// leadership for a given job (1) or not (0).
	SchedulerIsLeader = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "control_plane",
		Subsystem: "scheduler",
		Name:      "is_leader",
		Help:      "Whether this replica is elected leader for a job",
	}, []string{"job"})

	// RecordingsActive is the current count of recordings per state.
	RecordingsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "control_plane",
		Subsystem: "recording",
		Name:      "active",
		Help:      "Current number of recordings in a given state",
	}, []string{"state"})

	// RecordingTransitions counts recording state machine transitions.
	RecordingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "recording",
		Name:      "transitions_total",
		Help:      "Total recording state machine transitions",
	}, []string{"from", "to"})

	// RoomsActive is the current count of rooms per state.
	RoomsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "control_plane",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of rooms in a given state",
	}, []string{"state"})

	// RoomAutoDeletions counts rooms removed by the GC policy matrix.
	RoomAutoDeletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "room",
		Name:      "auto_deletions_total",
		Help:      "Total rooms removed by the auto-deletion policy",
	}, []string{"reason"})

	// NameReservationsActive is the current count of reserved participant names.
	NameReservationsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "control_plane",
		Subsystem: "nameres",
		Name:      "active",
		Help:      "Current number of active participant name reservations",
	}, []string{"room_id"})

	// NameReservationRejections counts reservation attempts rejected for
	// concurrency-limit or collision reasons.
	NameReservationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "nameres",
		Name:      "rejections_total",
		Help:      "Total name reservation requests rejected",
	}, []string{"reason"})

	// WebhookDeliveries counts webhook delivery attempts by outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total webhook delivery attempts",
	}, []string{"event_type", "outcome"})

	// WebhookDeliveryDuration tracks webhook delivery latency.
	WebhookDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "control_plane",
		Subsystem: "webhook",
		Name:      "delivery_duration_seconds",
		Help:      "Duration of webhook delivery attempts",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// MediaServerRequests counts calls to the media server by outcome.
	MediaServerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "mediaserver",
		Name:      "requests_total",
		Help:      "Total requests issued to the media server",
	}, []string{"operation", "outcome"})

	// CircuitBreakerState tracks the current state of each circuit breaker.
	// 0: Closed (healthy), 1: Half-Open (recovering), 2: Open (failing).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "control_plane",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"service"})

	// RedisOperationsTotal counts Redis operations by outcome.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "control_plane",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// EventBusPublished counts domain events published onto the bus.
	EventBusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Total domain events published to the event bus",
	}, []string{"event_type"})

	// RateLimitExceeded counts requests rejected by the HTTP rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "control_plane",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint"})
)

// CircuitBreakerStateValue maps gobreaker.State to the numeric gauge value
// used by CircuitBreakerState.
func CircuitBreakerStateValue(name string) float64 {
	switch name {
	case "closed":
		return 0
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
