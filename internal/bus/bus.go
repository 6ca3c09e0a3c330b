// Package bus implements the Event Bus: process-local fan-out combined
// with cross-node delivery over the coordination store's pub/sub, so that
// every replica observes every domain event regardless of which replica
// produced it.
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/ovmeet/control-plane/internal/store"
	"go.uber.org/zap"
)

const channelPrefix = "ov_meet:events:"

// DomainEvent is the envelope carried on the bus for every published
// event, both locally and across replicas via Redis. OccurredAt is set
// once by the publishing replica and carried verbatim in the marshaled
// envelope, so every replica's handler observes the same value for the
// same occurrence — subscribers that key off it (e.g. internal/webhook's
// cross-replica dedup lock) must never substitute their own clock read.
type DomainEvent struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"roomId,omitempty"`
	RecordingID string          `json:"recordingId,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
	ReplicaID   string          `json:"replicaId"`
}

// Handler processes a received DomainEvent.
type Handler func(DomainEvent)

// Bus fans domain events out to local subscribers and mirrors them across
// replicas via the coordination store's pub/sub.
type Bus struct {
	store     *store.Client
	replicaID string

	mu          sync.RWMutex
	subscribers map[string][]Handler // topic -> handlers

	wg     sync.WaitGroup
	cancel map[string]context.CancelFunc
}

// New constructs a Bus. replicaID tags this process's own published
// events on the wire; the cross-replica listener skips events carrying it,
// since Publish has already dispatched them to local subscribers.
func New(s *store.Client, replicaID string) *Bus {
	return &Bus{
		store:       s,
		replicaID:   replicaID,
		subscribers: make(map[string][]Handler),
		cancel:      make(map[string]context.CancelFunc),
	}
}

func channel(topic string) string {
	return channelPrefix + topic
}

// Subscribe registers handler for every DomainEvent of the given topic
// published locally or received from another replica. The first
// Subscribe for a topic also starts the cross-replica listener goroutine
// for that topic's channel.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) {
	b.mu.Lock()
	_, alreadyListening := b.cancel[topic]
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	if !alreadyListening {
		subCtx, cancel := context.WithCancel(ctx)
		b.cancel[topic] = cancel
		b.mu.Unlock()
		b.listen(subCtx, topic)
		return
	}
	b.mu.Unlock()
}

// listen starts the long-lived goroutine reading this topic's Redis
// channel and dispatching to local subscribers.
func (b *Bus) listen(ctx context.Context, topic string) {
	pubsub := b.store.Subscribe(ctx, channel(topic))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer pubsub.Close()

		logging.Info(ctx, "subscribed to event bus topic", zap.String("topic", topic))
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt DomainEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					logging.Error(ctx, "failed to unmarshal domain event", zap.String("topic", topic), zap.Error(err))
					continue
				}
				if evt.ReplicaID == b.replicaID {
					continue
				}
				b.dispatchLocal(topic, evt)
			}
		}
	}()
}

func (b *Bus) dispatchLocal(topic string, evt DomainEvent) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[topic]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(evt)
	}
}

// Publish marshals payload, dispatches it to local subscribers
// immediately, and mirrors it to other replicas via the store's pub/sub.
// A store failure degrades gracefully: local subscribers still observe
// the event, but other replicas will not. recordingID may be empty for
// events that are not recording-scoped.
func (b *Bus) Publish(ctx context.Context, topic, roomID, recordingID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apierror.Wrap(apierror.Internal, err, "failed to marshal event payload")
	}

	evt := DomainEvent{
		Type:        topic,
		RoomID:      roomID,
		RecordingID: recordingID,
		Payload:     raw,
		OccurredAt:  time.Now(),
		ReplicaID:   b.replicaID,
	}
	metrics.EventBusPublished.WithLabelValues(topic).Inc()

	b.dispatchLocal(topic, evt)

	data, err := json.Marshal(evt)
	if err != nil {
		return apierror.Wrap(apierror.Internal, err, "failed to marshal event envelope")
	}
	if err := b.store.Publish(ctx, channel(topic), data); err != nil {
		logging.Warn(ctx, "failed to mirror domain event to other replicas", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	return nil
}

// Close stops every active cross-replica listener and waits for their
// goroutines to exit.
func (b *Bus) Close() {
	b.mu.Lock()
	for _, cancel := range b.cancel {
		cancel()
	}
	b.mu.Unlock()
	b.wg.Wait()
}
