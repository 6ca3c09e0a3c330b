package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.uber.org/zap"
)

type startRecordingRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

// handleStartRecording claims the room's recording lock via Recordings.Start,
// then kicks off the actual egress job and attaches its ID so the inbound
// LiveKit webhook can later correlate status updates back to this row. A
// failure to start the egress job itself fails the recording so callers
// never see a STARTING row with no egress behind it.
func handleStartRecording(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startRecordingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, apierror.Wrap(apierror.Validation, err, "invalid request body"))
			return
		}

		ctx := c.Request.Context()
		recordingID := uuid.NewString()
		rec, err := deps.Recordings.Start(ctx, req.RoomID, recordingID)
		if err != nil {
			RespondError(c, err)
			return
		}

		outputURL := fmt.Sprintf("s3://recordings/%s.mp4", recordingID)
		egress, err := deps.Media.StartRoomCompositeEgress(ctx, req.RoomID, outputURL)
		if err != nil {
			_ = deps.Recordings.Transition(ctx, recordingID, persistence.RecordingFailed, "failed to start egress")
			RespondError(c, err)
			return
		}
		if err := deps.Recordings.AttachEgress(ctx, recordingID, egress.EgressID); err != nil {
			logging.Warn(ctx, "failed to attach egress id to recording",
				zap.String("recordingId", recordingID), zap.String("egressId", egress.EgressID), zap.Error(err))
		}

		c.JSON(http.StatusCreated, rec)
	}
}

func handleGetRecording(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := deps.Recordings.Get(c.Request.Context(), c.Param("recordingId"))
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

type transitionRecordingRequest struct {
	Status persistence.RecordingStatus `json:"status" binding:"required"`
	Reason string                      `json:"reason"`
}

func handleTransitionRecording(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionRecordingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, apierror.Wrap(apierror.Validation, err, "invalid request body"))
			return
		}

		recordingID := c.Param("recordingId")
		if err := deps.Recordings.Transition(c.Request.Context(), recordingID, req.Status, req.Reason); err != nil {
			RespondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
