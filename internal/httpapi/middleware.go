package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/auth"
	"github.com/ovmeet/control-plane/internal/logging"
	"github.com/ovmeet/control-plane/internal/persistence"
	"go.uber.org/zap"
)

// HeaderXCorrelationID is the header carrying the request correlation ID
// across the boundary and into every downstream log line.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID assigns (or propagates) a correlation ID and stores it on
// the request context under logging.CorrelationIDKey, so every
// internal/logging call made while handling this request carries it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderXCorrelationID, id)

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth validates the bearer token on every request in its group
// and stores the parsed claims under the "claims" context key, the same
// key internal/ratelimit reads to distinguish authenticated callers.
func RequireAuth(issuer *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			RespondError(c, apierror.New(apierror.Unauthenticated, "missing bearer token"))
			c.Abort()
			return
		}

		claims, err := issuer.ParseToken(token)
		if err != nil {
			RespondError(c, err)
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// RequireRole rejects any authenticated principal whose role is not one
// of allowed. Must run after RequireAuth.
func RequireRole(allowed ...persistence.Role) gin.HandlerFunc {
	permitted := make(map[persistence.Role]bool, len(allowed))
	for _, r := range allowed {
		permitted[r] = true
	}
	return func(c *gin.Context) {
		claims, ok := c.Get("claims")
		if !ok {
			RespondError(c, apierror.New(apierror.Unauthenticated, "missing claims"))
			c.Abort()
			return
		}
		cc := claims.(*auth.CustomClaims)
		if !permitted[cc.Role] {
			RespondError(c, apierror.New(apierror.Forbidden, "insufficient role"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// currentClaims returns the authenticated principal set by RequireAuth.
// Only safe to call on routes behind RequireAuth.
func currentClaims(c *gin.Context) *auth.CustomClaims {
	claims, _ := c.Get("claims")
	cc, _ := claims.(*auth.CustomClaims)
	return cc
}

// RespondError maps err to the REST status/body pair defined by
// apierror.HTTPStatus, so every handler reports failures uniformly.
func RespondError(c *gin.Context, err error) {
	kind := apierror.KindOf(err)
	status := apierror.HTTPStatus(kind)

	body := gin.H{"error": err.Error(), "kind": string(kind)}
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) && len(apiErr.Fields) > 0 {
		body["fields"] = apiErr.Fields
	}

	if status == http.StatusInternalServerError {
		logging.Error(c.Request.Context(), "unhandled internal error", zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}
