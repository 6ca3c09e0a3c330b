package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	lkauth "github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.uber.org/zap"
)

// egressStatusToRecordingStatus maps LiveKit's egress lifecycle onto
// the recording state machine. Statuses with no mapping return false and
// are not forwarded; a mapped status that is not a legal next state (e.g.
// a second STARTING event) is rejected by recording.Engine's own
// transition guard.
func egressStatusToRecordingStatus(s livekit.EgressStatus) (persistence.RecordingStatus, bool) {
	switch s {
	case livekit.EgressStatus_EGRESS_STARTING:
		return persistence.RecordingStarting, true
	case livekit.EgressStatus_EGRESS_ACTIVE:
		return persistence.RecordingActive, true
	case livekit.EgressStatus_EGRESS_ENDING:
		return persistence.RecordingEnding, true
	case livekit.EgressStatus_EGRESS_COMPLETE:
		return persistence.RecordingComplete, true
	case livekit.EgressStatus_EGRESS_FAILED:
		return persistence.RecordingFailed, true
	case livekit.EgressStatus_EGRESS_ABORTED:
		return persistence.RecordingAborted, true
	case livekit.EgressStatus_EGRESS_LIMIT_REACHED:
		return persistence.RecordingLimitReached, true
	default:
		return "", false
	}
}

// handleLiveKitWebhook receives signed LiveKit server events: a room
// starting or finishing a meeting feeds room.Manager's lifecycle, and an
// egress status change feeds recording.Engine's state machine via the
// egress ID attached when the recording was started.
func handleLiveKitWebhook(deps Deps) gin.HandlerFunc {
	provider := lkauth.NewSimpleKeyProvider(deps.Media.APIKey(), deps.Media.APISecret())

	return func(c *gin.Context) {
		event, err := webhook.ReceiveWebhookEvent(c.Request, provider)
		if err != nil {
			RespondError(c, err)
			return
		}

		ctx := c.Request.Context()
		switch event.Event {
		case "room_started":
			if event.Room != nil {
				if err := deps.Rooms.HandleRoomStarted(ctx, event.Room.Name); err != nil {
					logging.Warn(ctx, "room_started webhook: handler failed", zap.String("roomId", event.Room.Name), zap.Error(err))
				}
			}
		case "room_finished":
			if event.Room != nil {
				if err := deps.Rooms.HandleRoomFinished(ctx, event.Room.Name); err != nil {
					logging.Warn(ctx, "room_finished webhook: handler failed", zap.String("roomId", event.Room.Name), zap.Error(err))
				}
			}
		case "egress_started", "egress_updated", "egress_ended":
			if event.EgressInfo != nil {
				status, ok := egressStatusToRecordingStatus(event.EgressInfo.Status)
				if ok {
					roomID := event.EgressInfo.RoomName
					egressID := event.EgressInfo.EgressId
					if err := deps.Recordings.TransitionByEgress(ctx, roomID, egressID, status, event.EgressInfo.Error); err != nil {
						logging.Warn(ctx, "egress webhook: transition failed",
							zap.String("roomId", roomID), zap.String("egressId", egressID), zap.Error(err))
					}
				}
			}
		}

		c.Status(http.StatusOK)
	}
}
