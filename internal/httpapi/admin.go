package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/user"
)

type createUserRequest struct {
	Name               string           `json:"name" binding:"required"`
	Password           string           `json:"password" binding:"required"`
	Role               persistence.Role `json:"role" binding:"required"`
	MustChangePassword bool             `json:"mustChangePassword"`
}

func handleCreateUser(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, apierror.Wrap(apierror.Validation, err, "invalid request body"))
			return
		}

		u, err := deps.Users.Create(c.Request.Context(), user.CreateParams{
			Name:               req.Name,
			Password:           req.Password,
			Role:               req.Role,
			MustChangePassword: req.MustChangePassword,
		})
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, u)
	}
}

// apiKeyCredentialResponse is only ever returned once, at creation or
// rotation time: afterward the control plane retains just the hash.
type apiKeyCredentialResponse struct {
	KeyID     string `json:"keyId"`
	Plaintext string `json:"plaintext"`
}

func handleCreateAPIKey(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext, key, err := deps.APIKeys.Create(c.Request.Context())
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, apiKeyCredentialResponse{KeyID: key.KeyID, Plaintext: plaintext})
	}
}

func handleRotateAPIKey(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext, key, err := deps.APIKeys.Rotate(c.Request.Context(), c.Param("keyId"))
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, apiKeyCredentialResponse{KeyID: key.KeyID, Plaintext: plaintext})
	}
}

func handleRevokeAPIKey(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.APIKeys.Revoke(c.Request.Context(), c.Param("keyId")); err != nil {
			RespondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleListAPIKeys(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := deps.APIKeys.ListActive(c.Request.Context())
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, keys)
	}
}
