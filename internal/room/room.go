// Package room implements the Room Lifecycle Manager for a meeting room:
// persisted Room rows reconciled with the media server, status driven by
// webhooks and explicit API calls, all serialized per room under
// `room:{roomId}` from internal/lock.
package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/bus"
	"github.com/ovmeet/control-plane/internal/lock"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/metrics"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.uber.org/zap"
)

const (
	eventMeetingStarted = "meetingStarted"
	eventMeetingEnded   = "meetingEnded"
)

func lockResource(roomID string) string { return "room:" + roomID }

// MediaServerClient is the subset of internal/mediaserver a Manager needs,
// declared here so room does not import the media-server package's wider
// surface (LiveKit egress, participant tokens, ...).
type MediaServerClient interface {
	CreateRoom(ctx context.Context, roomID string, emptyTimeout, departureTimeout time.Duration, metadata string) error
	DeleteRoom(ctx context.Context, roomID string) error
}

// Options carries the room manager's tunables, sourced from
// internal/config.
type Options struct {
	EmptyTimeout     time.Duration
	DepartureTimeout time.Duration
}

// Manager owns room creation, status transitions, and auto-deletion.
type Manager struct {
	rooms      persistence.RoomRepository
	recordings persistence.RecordingRepository
	mutex      *lock.Mutex
	bus        *bus.Bus
	media      MediaServerClient
	opts       Options
}

// New constructs a Manager.
func New(rooms persistence.RoomRepository, recordings persistence.RecordingRepository, mutex *lock.Mutex, b *bus.Bus, media MediaServerClient, opts Options) *Manager {
	return &Manager{rooms: rooms, recordings: recordings, mutex: mutex, bus: b, media: media, opts: opts}
}

// CreateRoomParams is the input to Create.
type CreateRoomParams struct {
	RoomID             string
	RoomName           string
	CreatedBy          string
	AutoDeletionPolicy persistence.AutoDeletionPolicy
	AutoDeletionDate   *time.Time
	Config             persistence.RoomConfig
}

// Create persists a new Room row in the open state. It never talks to the
// media server: that happens lazily on the first participant-token
// request, via EnsureMediaRoom.
func (m *Manager) Create(ctx context.Context, p CreateRoomParams) (*persistence.Room, error) {
	room := &persistence.Room{
		RoomID:             p.RoomID,
		RoomName:           p.RoomName,
		Status:             persistence.RoomOpen,
		CreationDate:       time.Now(),
		AutoDeletionDate:   p.AutoDeletionDate,
		AutoDeletionPolicy: p.AutoDeletionPolicy,
		Config:             p.Config,
		MeetingEndAction:   persistence.MeetingEndActionNone,
		CreatedBy:          p.CreatedBy,
	}
	if err := m.rooms.Create(ctx, room); err != nil {
		return nil, err
	}
	metrics.RoomsActive.WithLabelValues(string(persistence.RoomOpen)).Inc()
	return room, nil
}

// Get returns a room by ID.
func (m *Manager) Get(ctx context.Context, roomID string) (*persistence.Room, error) {
	return m.rooms.Get(ctx, roomID)
}

// EnsureMediaRoom creates the media-server room on first use, embedding
// {createdBy, roomOptions} in its metadata. Idempotent: a room already
// flagged as provisioned is a no-op.
func (m *Manager) EnsureMediaRoom(ctx context.Context, roomID string) error {
	return m.withRoomLock(ctx, roomID, func(rm *persistence.Room) (bool, error) {
		if provisioned, _ := rm.Config["mediaRoomProvisioned"].(bool); provisioned {
			return false, nil
		}

		meta, err := json.Marshal(map[string]any{
			"createdBy":   rm.CreatedBy,
			"roomOptions": rm.Config,
		})
		if err != nil {
			return false, apierror.Wrap(apierror.Internal, err, "marshal media-server metadata")
		}

		if err := m.media.CreateRoom(ctx, roomID, m.opts.EmptyTimeout, m.opts.DepartureTimeout, string(meta)); err != nil {
			return false, err
		}

		if rm.Config == nil {
			rm.Config = persistence.RoomConfig{}
		}
		rm.Config["mediaRoomProvisioned"] = true
		return true, nil
	})
}

// HandleRoomStarted processes the media server's room_started webhook:
// an open room with a meeting beginning transitions to active_meeting.
func (m *Manager) HandleRoomStarted(ctx context.Context, roomID string) error {
	return m.withRoomLock(ctx, roomID, func(rm *persistence.Room) (bool, error) {
		if rm.Status != persistence.RoomOpen {
			return false, nil
		}
		rm.Status = persistence.RoomActiveMeeting
		m.publishRoomEvent(ctx, eventMeetingStarted, rm)
		metrics.RoomsActive.WithLabelValues(string(persistence.RoomOpen)).Dec()
		metrics.RoomsActive.WithLabelValues(string(persistence.RoomActiveMeeting)).Inc()
		return true, nil
	})
}

// HandleRoomFinished processes the media server's room_finished webhook:
// the meeting ends and any deferred meetingEndAction now executes.
func (m *Manager) HandleRoomFinished(ctx context.Context, roomID string) error {
	var action persistence.MeetingEndAction
	err := m.withRoomLock(ctx, roomID, func(rm *persistence.Room) (bool, error) {
		if rm.Status != persistence.RoomActiveMeeting {
			return false, nil
		}
		rm.Status = persistence.RoomOpen
		action = rm.MeetingEndAction
		rm.MeetingEndAction = persistence.MeetingEndActionNone
		m.publishRoomEvent(ctx, eventMeetingEnded, rm)
		metrics.RoomsActive.WithLabelValues(string(persistence.RoomActiveMeeting)).Dec()
		metrics.RoomsActive.WithLabelValues(string(persistence.RoomOpen)).Inc()
		return true, nil
	})
	if err != nil {
		return err
	}

	switch action {
	case persistence.MeetingEndActionClose:
		return m.Close(ctx, roomID)
	case persistence.MeetingEndActionDelete:
		_, err := m.Delete(ctx, roomID)
		return err
	default:
		return nil
	}
}

// Close terminates any active meeting and marks the room closed.
func (m *Manager) Close(ctx context.Context, roomID string) error {
	return m.withRoomLock(ctx, roomID, func(rm *persistence.Room) (bool, error) {
		if rm.Status == persistence.RoomActiveMeeting {
			if err := m.media.DeleteRoom(ctx, roomID); err != nil {
				return false, err
			}
			metrics.RoomsActive.WithLabelValues(string(persistence.RoomActiveMeeting)).Dec()
		} else {
			metrics.RoomsActive.WithLabelValues(string(rm.Status)).Dec()
		}
		rm.Status = persistence.RoomClosed
		metrics.RoomsActive.WithLabelValues(string(persistence.RoomClosed)).Inc()
		return true, nil
	})
}

// DeletionResult reports what Delete actually did, since a policy may
// defer rather than delete immediately.
type DeletionResult int

const (
	// DeletionApplied means the room (and possibly its recordings) was
	// removed.
	DeletionApplied DeletionResult = iota
	// DeletionDeferred means the room was left in place; meetingEndAction
	// is recorded for later only when a meeting is active. Callers should
	// report this as "202 accepted", not an error.
	DeletionDeferred
)

// Delete applies the auto-deletion policy matrix, serialized
// under the room's lock. Every outcome — refuse, defer, delete — is
// executed while the lock is held.
func (m *Manager) Delete(ctx context.Context, roomID string) (DeletionResult, error) {
	var result DeletionResult
	err := m.withRoomLock(ctx, roomID, func(rm *persistence.Room) (bool, error) {
		recs, err := m.recordings.ListByRoom(ctx, roomID)
		if err != nil {
			return false, err
		}

		plan := evaluateDeletion(rm.AutoDeletionPolicy, rm.Status == persistence.RoomActiveMeeting, len(recs) > 0)
		switch plan.outcome {
		case outcomeRefuse:
			return false, apierror.New(apierror.Conflict, "room deletion refused by auto-deletion policy").WithField("roomId", roomID)

		case outcomeDefer:
			if rm.Status != persistence.RoomActiveMeeting {
				// No active meeting means no room_finished webhook will ever
				// arrive to resolve this defer via HandleRoomFinished; leave
				// meetingEndAction untouched rather than wedge it on a dead
				// end. The caller sees DeletionDeferred and must retry the
				// deletion explicitly once the blocking condition clears.
				result = DeletionDeferred
				return false, nil
			}
			rm.MeetingEndAction = persistence.MeetingEndActionDelete
			result = DeletionDeferred
			return true, nil

		case outcomeDelete:
			if plan.terminateFirst {
				if err := m.media.DeleteRoom(ctx, roomID); err != nil {
					return false, err
				}
			}
			if plan.purgeRecordings {
				for _, r := range recs {
					if err := m.recordings.Delete(ctx, r.RecordingID); err != nil {
						logging.Warn(ctx, "failed to purge recording during room deletion",
							zap.String("roomId", roomID), zap.String("recordingId", r.RecordingID), zap.Error(err))
					}
				}
			}
			if err := m.rooms.Delete(ctx, roomID); err != nil {
				return false, err
			}
			metrics.RoomsActive.WithLabelValues(string(rm.Status)).Dec()
			metrics.RoomAutoDeletions.WithLabelValues("policy").Inc()
			result = DeletionApplied
			return false, nil // row is gone; nothing to persist back
		}
		return false, nil
	})
	return result, err
}

// RunAutoDeletionGC is the room_gc scheduler job: it re-evaluates every
// room whose autoDeletionDate has passed against the same policy matrix
// Delete uses, continuing past individual refusals.
func (m *Manager) RunAutoDeletionGC(ctx context.Context) error {
	rooms, err := m.rooms.ListExpiring(ctx, time.Now().Unix(), 500)
	if err != nil {
		return err
	}

	var firstErr error
	for _, rm := range rooms {
		if _, err := m.Delete(ctx, rm.RoomID); err != nil && apierror.KindOf(err) != apierror.Conflict {
			logging.Warn(ctx, "room_gc: delete failed", zap.String("roomId", rm.RoomID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) publishRoomEvent(ctx context.Context, eventType string, rm *persistence.Room) {
	payload := map[string]any{"roomId": rm.RoomID, "timestamp": time.Now()}
	if err := m.bus.Publish(ctx, eventType, rm.RoomID, "", payload); err != nil {
		logging.Warn(ctx, "failed to publish room event", zap.String("eventType", eventType), zap.String("roomId", rm.RoomID), zap.Error(err))
	}
}

// withRoomLock serializes read-modify-write access to a Room row under
// room:{roomId}. fn returns whether the row was mutated and needs
// persisting; Delete uses the false return to signal the row no longer
// exists.
func (m *Manager) withRoomLock(ctx context.Context, roomID string, fn func(*persistence.Room) (bool, error)) error {
	l, err := m.mutex.AcquireWithRetry(ctx, lockResource(roomID), 30*time.Second, 5, 50*time.Millisecond)
	if err != nil {
		return err
	}
	defer func() { _ = m.mutex.Release(ctx, l) }()

	rm, err := m.rooms.Get(ctx, roomID)
	if err != nil {
		return err
	}

	mutated, err := fn(rm)
	if err != nil {
		return err
	}
	if !mutated {
		return nil
	}
	return m.rooms.Update(ctx, rm)
}
