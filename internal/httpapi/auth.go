package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovmeet/control-plane/internal/apierror"
)

type loginRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	AccessToken        string `json:"accessToken"`
	RefreshToken       string `json:"refreshToken"`
	MustChangePassword bool   `json:"mustChangePassword"`
}

func handleLogin(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, apierror.Wrap(apierror.Validation, err, "invalid request body"))
			return
		}

		u, err := deps.Users.Authenticate(c.Request.Context(), req.Name, req.Password)
		if err != nil {
			RespondError(c, err)
			return
		}

		access, err := deps.Issuer.IssueAccessToken(u)
		if err != nil {
			RespondError(c, err)
			return
		}
		refresh, err := deps.Issuer.IssueRefreshToken(u)
		if err != nil {
			RespondError(c, err)
			return
		}

		c.JSON(http.StatusOK, loginResponse{
			AccessToken:        access,
			RefreshToken:       refresh,
			MustChangePassword: u.MustChangePassword,
		})
	}
}
