package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/room"
)

type createRoomRequest struct {
	RoomName           string                        `json:"roomName" binding:"required"`
	AutoDeletionPolicy persistence.AutoDeletionPolicy `json:"autoDeletionPolicy"`
	AutoDeletionDate   *time.Time                     `json:"autoDeletionDate"`
	Config             persistence.RoomConfig         `json:"config"`
}

func handleCreateRoom(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, apierror.Wrap(apierror.Validation, err, "invalid request body"))
			return
		}

		claims := currentClaims(c)
		rm, err := deps.Rooms.Create(c.Request.Context(), room.CreateRoomParams{
			RoomID:             uuid.NewString(),
			RoomName:           req.RoomName,
			CreatedBy:          claims.Subject,
			AutoDeletionPolicy: req.AutoDeletionPolicy,
			AutoDeletionDate:   req.AutoDeletionDate,
			Config:             req.Config,
		})
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, rm)
	}
}

func handleGetRoom(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rm, err := deps.Rooms.Get(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rm)
	}
}

func handleDeleteRoom(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := deps.Rooms.Delete(c.Request.Context(), c.Param("roomId"))
		if err != nil {
			RespondError(c, err)
			return
		}
		if result == room.DeletionDeferred {
			c.JSON(http.StatusAccepted, gin.H{"status": "deferred"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleCloseRoom(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Rooms.Close(c.Request.Context(), c.Param("roomId")); err != nil {
			RespondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type mintParticipantTokenRequest struct {
	RoomID      string `json:"roomId" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
	CanPublish  bool   `json:"canPublish"`
}

type mintParticipantTokenResponse struct {
	Token        string `json:"token"`
	AssignedName string `json:"assignedName"`
}

// handleMintParticipantToken reserves a collision-free display name, lazily
// provisions the media-server room, and mints the participant's access
// token, in that order so a name reservation never outlives a failed join.
func handleMintParticipantToken(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req mintParticipantTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, apierror.Wrap(apierror.Validation, err, "invalid request body"))
			return
		}

		ctx := c.Request.Context()
		reservation, err := deps.Names.Reserve(ctx, req.RoomID, req.DisplayName)
		if err != nil {
			RespondError(c, err)
			return
		}

		if err := deps.Rooms.EnsureMediaRoom(ctx, req.RoomID); err != nil {
			_ = deps.Names.Release(ctx, req.RoomID, reservation.AssignedName)
			RespondError(c, err)
			return
		}

		token, err := deps.Media.MintParticipantToken(uuid.NewString(), req.RoomID, reservation.AssignedName, req.CanPublish)
		if err != nil {
			_ = deps.Names.Release(ctx, req.RoomID, reservation.AssignedName)
			RespondError(c, err)
			return
		}

		c.JSON(http.StatusOK, mintParticipantTokenResponse{Token: token, AssignedName: reservation.AssignedName})
	}
}
