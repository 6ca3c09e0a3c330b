// Package recording implements the egress lifecycle state machine of
// STARTING → ACTIVE → ENDING → COMPLETE, with FAILED and
// ABORTED branches, guarded by a per-room exclusive lock and reconciled
// by two scheduler jobs (stale cleanup, lock GC).
package recording

import (
	"context"
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

// eventTopic is the domain event topic recording transitions publish on.
const eventTopic = "recording_transitions"

// lockResource returns the name of the per-room exclusive recording lock.
func lockResource(roomID string) string {
	return "RECORDING_ACTIVE:" + roomID
}

// transitions enumerates the only state changes the engine accepts.
// Transitions not present here are rejected without mutating the row.
var transitions = map[persistence.RecordingStatus][]persistence.RecordingStatus{
	persistence.RecordingStarting: {persistence.RecordingActive, persistence.RecordingFailed, persistence.RecordingAborted},
	persistence.RecordingActive:   {persistence.RecordingEnding, persistence.RecordingAborted},
	persistence.RecordingEnding:   {persistence.RecordingComplete, persistence.RecordingFailed, persistence.RecordingAborted},
}

func isAllowedTransition(from, to persistence.RecordingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Options carries the recording engine's tunables, sourced from
// via internal/config.
type Options struct {
	LockTTL                 time.Duration
	StartedTimeout          time.Duration
	StaleAfter              time.Duration
	OrphanedLockGracePeriod time.Duration
}

// Engine owns the recording state machine.
type Engine struct {
	repo  persistence.RecordingRepository
	mutex *lock.Mutex
	bus   *bus.Bus
	opts  Options
}

// New constructs an Engine.
func New(repo persistence.RecordingRepository, mutex *lock.Mutex, b *bus.Bus, opts Options) *Engine {
	return &Engine{repo: repo, mutex: mutex, bus: b, opts: opts}
}

// TransitionEvent is the domain event payload published on every state
// change.
type TransitionEvent struct {
	RecordingID string    `json:"recordingId"`
	RoomID      string    `json:"roomId"`
	OldStatus   string    `json:"oldStatus"`
	NewStatus   string    `json:"newStatus"`
	Timestamp   time.Time `json:"timestamp"`
}

// Start begins a new egress job for roomID under the room's exclusive
// recording lock. Returns apierror(Conflict) (ALREADY_RECORDING) if the
// lock is already held.
func (e *Engine) Start(ctx context.Context, roomID, recordingID string) (*persistence.Recording, error) {
	l, err := e.mutex.Acquire(ctx, lockResource(roomID), e.opts.LockTTL)
	if err != nil {
		if apierror.KindOf(err) == apierror.Busy {
			return nil, apierror.New(apierror.Conflict, "ALREADY_RECORDING").WithField("roomId", roomID)
		}
		return nil, err
	}

	rec := &persistence.Recording{
		RecordingID: recordingID,
		RoomID:      roomID,
		Status:      persistence.RecordingStarting,
		LockToken:   l.Token,
		UpdatedAt:   time.Now(),
	}
	if err := e.repo.Create(ctx, rec); err != nil {
		_ = e.mutex.Release(ctx, l)
		return nil, err
	}

	e.emit(ctx, rec, "", persistence.RecordingStarting)
	e.syncGauge(ctx, roomID)

	go e.watchStartTimeout(recordingID, roomID)

	return rec, nil
}

// Get returns a recording by ID.
func (e *Engine) Get(ctx context.Context, recordingID string) (*persistence.Recording, error) {
	return e.repo.Get(ctx, recordingID)
}

// watchStartTimeout marks the recording FAILED if no media-server event
// arrives within StartedTimeout on the start path.
func (e *Engine) watchStartTimeout(recordingID, roomID string) {
	time.Sleep(e.opts.StartedTimeout)

	ctx := context.Background()
	rec, err := e.repo.Get(ctx, recordingID)
	if err != nil {
		return
	}
	if rec.Status != persistence.RecordingStarting {
		return
	}
	if err := e.Transition(ctx, recordingID, persistence.RecordingFailed, "start timeout"); err != nil {
		logging.Warn(ctx, "failed to fail timed-out recording", zap.String("recordingId", recordingID), zap.Error(err))
	}
}

// Transition applies an update-path event, advancing rec.Status per the
// state graph. Disallowed transitions are rejected without mutating the
// row, matching the engine's never-back-transitions-from-terminal guarantee.
func (e *Engine) Transition(ctx context.Context, recordingID string, to persistence.RecordingStatus, reason string) error {
	rec, err := e.repo.Get(ctx, recordingID)
	if err != nil {
		return err
	}
	return e.transitionRecord(ctx, rec, to, reason)
}

// TransitionByEgress applies a transition looked up by the media server's
// egress ID rather than our own recordingId, for the inbound LiveKit
// egress webhook, which only ever reports its own identifiers. A miss
// (no recording in roomID carries this egress ID) is reported as
// NotFound rather than silently ignored, so the webhook handler can log it.
func (e *Engine) TransitionByEgress(ctx context.Context, roomID, egressID string, to persistence.RecordingStatus, reason string) error {
	recs, err := e.repo.ListByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.EgressID == egressID {
			return e.transitionRecord(ctx, rec, to, reason)
		}
	}
	return apierror.Newf(apierror.NotFound, "no recording in room %s for egress %s", roomID, egressID)
}

// AttachEgress records the media server's egress ID on a recording once
// the Start call returns it, so a later egress webhook can be correlated
// back to this recording via TransitionByEgress.
func (e *Engine) AttachEgress(ctx context.Context, recordingID, egressID string) error {
	rec, err := e.repo.Get(ctx, recordingID)
	if err != nil {
		return err
	}
	rec.EgressID = egressID
	return e.repo.Update(ctx, rec)
}

func (e *Engine) transitionRecord(ctx context.Context, rec *persistence.Recording, to persistence.RecordingStatus, reason string) error {
	if rec.Status.Terminal() {
		logging.Warn(ctx, "rejected transition on terminal recording",
			zap.String("recordingId", rec.RecordingID), zap.String("status", string(rec.Status)), zap.String("attempted", string(to)))
		return apierror.New(apierror.Conflict, "recording already in terminal state").WithField("recordingId", rec.RecordingID)
	}
	if !isAllowedTransition(rec.Status, to) {
		logging.Warn(ctx, "rejected invalid recording transition",
			zap.String("recordingId", rec.RecordingID), zap.String("from", string(rec.Status)), zap.String("to", string(to)))
		return apierror.New(apierror.Validation, "invalid recording transition").
			WithField("from", string(rec.Status)).WithField("to", string(to))
	}

	old := rec.Status
	rec.Status = to
	rec.UpdatedAt = time.Now()
	if reason != "" {
		rec.Error = reason
	}
	if err := e.repo.Update(ctx, rec); err != nil {
		return err
	}

	e.emit(ctx, rec, old, to)
	e.syncGauge(ctx, rec.RoomID)

	if to.Terminal() && rec.LockToken != "" {
		if err := e.mutex.Release(ctx, e.mutex.Resume(lockResource(rec.RoomID), rec.LockToken)); err != nil {
			logging.Warn(ctx, "failed to release recording lock on terminal transition",
				zap.String("recordingId", rec.RecordingID), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, rec *persistence.Recording, old, newStatus persistence.RecordingStatus) {
	metrics.RecordingTransitions.WithLabelValues(string(old), string(newStatus)).Inc()

	payload := TransitionEvent{
		RecordingID: rec.RecordingID,
		RoomID:      rec.RoomID,
		OldStatus:   string(old),
		NewStatus:   string(newStatus),
		Timestamp:   rec.UpdatedAt,
	}
	if err := e.bus.Publish(ctx, eventTopic, rec.RoomID, rec.RecordingID, payload); err != nil {
		logging.Warn(ctx, "failed to publish recording transition event", zap.String("recordingId", rec.RecordingID), zap.Error(err))
	}
}

func (e *Engine) syncGauge(ctx context.Context, roomID string) {
	recs, err := e.repo.ListByRoom(ctx, roomID)
	if err != nil {
		return
	}
	counts := make(map[persistence.RecordingStatus]int)
	for _, r := range recs {
		counts[r.Status]++
	}
	for status, n := range counts {
		metrics.RecordingsActive.WithLabelValues(string(status)).Set(float64(n))
	}
}

// StaleCleanup is the recording_stale_cleanup scheduler job: any
// non-terminal row whose updatedAt is older than StaleAfter is marked
// ABORTED.
func (e *Engine) StaleCleanup(ctx context.Context) error {
	cutoff := time.Now().Add(-e.opts.StaleAfter).Unix()
	stale, err := e.repo.ListNonTerminalOlderThan(ctx, cutoff, 500)
	if err != nil {
		return err
	}

	var firstErr error
	for _, rec := range stale {
		if err := e.Transition(ctx, rec.RecordingID, persistence.RecordingAborted, "stale"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LockGC is the recording_lock_gc scheduler job: it lists registry
// entries matching RECORDING_ACTIVE:*, joins to the row, and force-releases
// locks whose row is terminal or missing, applying a grace period to avoid
// racing a just-created row. Terminal transitions already release their own
// lock by its real token; this job only reclaims locks orphaned by a crash
// between Start and that release, so it must not depend on the original
// token still being reachable.
func (e *Engine) LockGC(ctx context.Context) error {
	members, err := e.mutex.RegistryMembers(ctx)
	if err != nil {
		return err
	}

	for _, resource := range members {
		roomID, ok := strings.CutPrefix(resource, "RECORDING_ACTIVE:")
		if !ok {
			continue
		}

		recs, err := e.repo.ListByRoom(ctx, roomID)
		if err != nil {
			logging.Warn(ctx, "lock gc: failed to list recordings for room", zap.String("roomId", roomID), zap.Error(err))
			continue
		}

		if activeNonTerminalExists(recs, e.opts.OrphanedLockGracePeriod) {
			continue
		}

		held, err := e.mutex.Held(ctx, resource)
		if err != nil || !held {
			continue
		}
		if err := e.mutex.ForceRelease(ctx, resource); err != nil {
			logging.Warn(ctx, "lock gc: failed to force-release orphaned lock", zap.String("resource", resource), zap.Error(err))
		}
	}
	return nil
}

func activeNonTerminalExists(recs []*persistence.Recording, grace time.Duration) bool {
	cutoff := time.Now().Add(-grace)
	for _, r := range recs {
		if !r.Status.Terminal() {
			return true
		}
		if r.UpdatedAt.After(cutoff) {
			// Freshly terminal; give the lock-release path in
			// Transition a chance to run before GC races it.
			return true
		}
	}
	return false
}
