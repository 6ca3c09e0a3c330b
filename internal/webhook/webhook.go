// Package webhook dispatches outbound notifications to a customer-configured
// URL whenever a meeting or recording crosses a lifecycle boundary. It
// subscribes to internal/bus rather than being called directly by the room
// and recording managers, so delivery failures never affect the operation
// that raised the event.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/bus"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.uber.org/zap"
)

// Outbound event types, the control plane emits.
const (
	EventMeetingStarted   = "meetingStarted"
	EventMeetingEnded     = "meetingEnded"
	EventRecordingStarted = "recordingStarted"
	EventRecordingUpdated = "recordingUpdated"
	EventRecordingEnded   = "recordingEnded"
)

// recordingTransitionsTopic is the internal/recording event topic;
// eventForRecordingTransition maps its new status onto one of the three
// recording webhook event types.
const recordingTransitionsTopic = "recording_transitions"

// ConfigProvider resolves the customer-configured webhook target. It is
// satisfied by *internal/globalconfig.Store; kept as a narrow interface
// here so this package doesn't import the whole config surface.
type ConfigProvider interface {
	Get(ctx context.Context) (*persistence.GlobalConfig, error)
}

// Options carries the dispatcher's tunables, sourced from config via
// internal/config. SigningSecret is the fallback used when the project's
// webhooksConfig document doesn't override it.
type Options struct {
	SigningSecret string
	MaxAttempts   int
	BaseBackoff   time.Duration
	LockTTL       time.Duration
	HTTPClient    *http.Client
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff == 0 {
		o.BaseBackoff = 250 * time.Millisecond
	}
	if o.LockTTL == 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return o
}

// Dispatcher delivers signed webhook payloads at least once per emitted
// domain event, deduplicated across replicas by internal/lock.
type Dispatcher struct {
	bus     *bus.Bus
	mutex   *lock.Mutex
	configs ConfigProvider
	opts    Options
}

// New constructs a Dispatcher. Call Start to begin consuming events.
func New(b *bus.Bus, mutex *lock.Mutex, configs ConfigProvider, opts Options) *Dispatcher {
	return &Dispatcher{bus: b, mutex: mutex, configs: configs, opts: opts.withDefaults()}
}

// target resolves the delivery URL and signing secret from the project's
// webhooksConfig document, falling back to the dispatcher's default
// signing secret when the document doesn't override it. An empty URL
// means no webhook endpoint has been configured yet; callers must treat
// that as "nothing to deliver", not an error.
func (d *Dispatcher) target(ctx context.Context) (url, secret string) {
	secret = d.opts.SigningSecret

	cfg, err := d.configs.Get(ctx)
	if err != nil || cfg.WebhooksConfig == nil {
		return "", secret
	}
	if u, ok := cfg.WebhooksConfig["url"].(string); ok {
		url = u
	}
	if s, ok := cfg.WebhooksConfig["secret"].(string); ok && s != "" {
		secret = s
	}
	return url, secret
}

// Start subscribes to every domain event topic the dispatcher fans out.
// Subscribe is synchronous to register but the first call per topic also
// starts the bus's long-lived listener goroutine; delivery itself happens
// on that goroutine, decoupled from the request that raised the event, so
// handlers use a background context rather than one scoped to a single
// HTTP call.
func (d *Dispatcher) Start(ctx context.Context) {
	d.bus.Subscribe(ctx, EventMeetingStarted, d.handleRoomEvent(EventMeetingStarted))
	d.bus.Subscribe(ctx, EventMeetingEnded, d.handleRoomEvent(EventMeetingEnded))
	d.bus.Subscribe(ctx, recordingTransitionsTopic, d.handleRecordingTransition)
}

func (d *Dispatcher) handleRoomEvent(eventType string) bus.Handler {
	return func(evt bus.DomainEvent) {
		d.deliver(context.Background(), eventType, evt.RoomID, evt.Payload, evt.OccurredAt)
	}
}

// recordingTransitionPayload mirrors internal/recording.TransitionEvent's
// wire shape; duplicated here rather than imported so the dispatcher
// depends only on the bus, not on the recording package's internals.
type recordingTransitionPayload struct {
	RecordingID string    `json:"recordingId"`
	RoomID      string    `json:"roomId"`
	OldStatus   string    `json:"oldStatus"`
	NewStatus   string    `json:"newStatus"`
	Timestamp   time.Time `json:"timestamp"`
}

func (d *Dispatcher) handleRecordingTransition(evt bus.DomainEvent) {
	ctx := context.Background()

	var t recordingTransitionPayload
	if err := json.Unmarshal(evt.Payload, &t); err != nil {
		logging.Warn(ctx, "webhook: malformed recording transition payload", zap.Error(err))
		return
	}

	eventType, ok := eventForRecordingTransition(t.NewStatus)
	if !ok {
		return
	}
	d.deliver(ctx, eventType, t.RecordingID, evt.Payload, evt.OccurredAt)
}

// eventForRecordingTransition maps a recording's new status onto the
// webhook event type a customer subscribes to. "Ending" and any other
// non-terminal, non-active status is reported as an update; "active"
// is the start edge, and every terminal status is the end edge,
// regardless of whether it ended in success, failure, or abort.
func eventForRecordingTransition(newStatus string) (string, bool) {
	switch strings.ToLower(newStatus) {
	case "active":
		return EventRecordingStarted, true
	case "starting":
		return "", false
	case "complete", "failed", "aborted", "limit_reached":
		return EventRecordingEnded, true
	default:
		return EventRecordingUpdated, true
	}
}

// outboundPayload is the wire shape of an outbound webhook body:
// {creationDate, event, data}.
type outboundPayload struct {
	CreationDate time.Time       `json:"creationDate"`
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data"`
}

// eventKey deterministically names the event for dedup-lock purposes, so
// a replica that has already started delivering a given occurrence wins
// the race and every other replica backs off. occurredAt MUST be the
// value stamped once by the publishing replica (bus.DomainEvent.OccurredAt),
// never a fresh clock read: each replica's Subscribe callback fires at a
// different wall-clock moment for the same logical event, so any
// independently-read timestamp would hash to a different key per replica
// and defeat the dedup lock entirely.
func eventKey(eventType, primaryID string, occurredAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%d", eventType, primaryID, occurredAt.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// deliver acquires the dedup lock for this occurrence and, if won, signs
// and sends the payload with retries. Losing the lock means another
// replica is delivering or has delivered it, which is not an error. occurredAt
// comes from the domain event envelope, not time.Now(), so every replica
// computes the same dedup key for the same occurrence.
func (d *Dispatcher) deliver(ctx context.Context, eventType, primaryID string, data json.RawMessage, occurredAt time.Time) {
	url, secret := d.target(ctx)
	if url == "" {
		return
	}

	key := eventKey(eventType, primaryID, occurredAt)
	resource := "webhook:" + key

	// The lock is left to expire after LockTTL rather than released once
	// sent, so a replica that receives the same occurrence later over
	// pub/sub still finds it held.
	if _, err := d.mutex.Acquire(ctx, resource, d.opts.LockTTL); err != nil {
		return
	}

	payload := outboundPayload{CreationDate: occurredAt, Event: eventType, Data: data}
	body, err := json.Marshal(payload)
	if err != nil {
		logging.Warn(ctx, "webhook: failed to marshal payload", zap.String("event", eventType), zap.Error(err))
		return
	}

	start := time.Now()
	err = d.send(ctx, url, secret, body)
	metrics.WebhookDeliveryDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "failure"
		logging.Warn(ctx, "webhook: delivery exhausted retries",
			zap.String("event", eventType), zap.String("primaryId", primaryID), zap.Error(err))
	}
	metrics.WebhookDeliveries.WithLabelValues(eventType, outcome).Inc()
}

// SendTest delivers a synthetic payload to the currently configured URL,
// bypassing the dedup lock since this is an explicit one-off operator
// action rather than a replicated domain event. Returns apierror(Validation)
// if no webhook URL is configured yet.
func (d *Dispatcher) SendTest(ctx context.Context) error {
	url, secret := d.target(ctx)
	if url == "" {
		return apierror.New(apierror.Validation, "no webhook url configured")
	}

	payload := outboundPayload{CreationDate: time.Now(), Event: "test", Data: json.RawMessage(`{"message":"this is a test event"}`)}
	body, err := json.Marshal(payload)
	if err != nil {
		return apierror.Wrap(apierror.Internal, err, "marshal test payload")
	}
	return d.send(ctx, url, secret, body)
}

// send POSTs body to the configured URL, retrying with exponential
// backoff and jitter up to MaxAttempts times. A non-2xx response or a
// transport error is retryable; the caller's at-least-once contract
// means a final failure here simply waits for the next emitted event
// (or a higher-level reconciliation) rather than queuing the same
// attempt again.
func (d *Dispatcher) send(ctx context.Context, url, secret string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt < d.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := d.opts.BaseBackoff * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", sign(secret, body))

		resp, err := d.opts.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return lastErr
}

// sign computes the Authorization header value: an HMAC-SHA256 of the
// request body keyed on the configured shared secret, hex-encoded. This
// stands in for a shared-secret signing header.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
