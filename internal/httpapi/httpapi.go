// Package httpapi exposes the control plane's REST surface: a thin gin
// boundary that authenticates requests, applies rate limits, and
// delegates every operation to the domain managers in internal/room,
// internal/recording, internal/nameres, internal/user, internal/apikey,
// and internal/globalconfig. No business logic lives here.
package httpapi

import (
	"context"
	"net/http"
	"time"

	ginCors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ovmeet/control-plane/internal/apikey"
	"github.com/ovmeet/control-plane/internal/auth"
	"github.com/ovmeet/control-plane/internal/globalconfig"
	"github.com/ovmeet/control-plane/internal/mediaserver"
	"github.com/ovmeet/control-plane/internal/nameres"
	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/ovmeet/control-plane/internal/ratelimit"
	"github.com/ovmeet/control-plane/internal/recording"
	"github.com/ovmeet/control-plane/internal/room"
	"github.com/ovmeet/control-plane/internal/store"
	"github.com/ovmeet/control-plane/internal/user"
	"github.com/ovmeet/control-plane/internal/webhook"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles every collaborator the REST boundary delegates to. All
// fields are required except RateLimiter, which is optional so tests and
// single-instance deployments can skip it.
type Deps struct {
	Rooms       *room.Manager
	Recordings  *recording.Engine
	Names       *nameres.Engine
	Configs     *globalconfig.Store
	Users       *user.Manager
	APIKeys     *apikey.Manager
	Media       *mediaserver.Client
	Issuer      *auth.Issuer
	Store       *store.Client
	Webhooks    *webhook.Dispatcher
	RateLimiter *ratelimit.Limiter
}

// NewRouter builds the gin engine with every route group wired to deps.
// allowedOrigins mirrors the deployment's CORS surface; an empty slice
// disables cross-origin requests entirely.
func NewRouter(deps Deps, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CorrelationID())
	r.Use(cors(allowedOrigins))

	r.GET("/health/live", liveness)
	r.GET("/health/ready", readiness(deps.Store))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/livekit/webhook", handleLiveKitWebhook(deps))

	api := r.Group("/")
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.GlobalMiddleware())
	}

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", handleLogin(deps))
	}

	protected := api.Group("/")
	protected.Use(RequireAuth(deps.Issuer))

	rooms := protected.Group("/rooms")
	if deps.RateLimiter != nil {
		rooms.Use(deps.RateLimiter.MiddlewareForEndpoint("rooms"))
	}
	{
		rooms.POST("", handleCreateRoom(deps))
		rooms.GET("/:roomId", handleGetRoom(deps))
		rooms.DELETE("/:roomId", handleDeleteRoom(deps))
		rooms.POST("/:roomId/close", handleCloseRoom(deps))
	}

	protected.POST("/participants/token", handleMintParticipantToken(deps))

	recordings := protected.Group("/recordings")
	{
		recordings.POST("", handleStartRecording(deps))
		recordings.GET("/:recordingId", handleGetRecording(deps))
		recordings.POST("/:recordingId/transition", handleTransitionRecording(deps))
	}

	cfg := protected.Group("/config")
	{
		cfg.GET("/security", handleGetConfigSection(deps, "security"))
		cfg.PUT("/security", handlePutConfigSection(deps, "security"))
		cfg.GET("/webhooks", handleGetConfigSection(deps, "webhooks"))
		cfg.PUT("/webhooks", handlePutConfigSection(deps, "webhooks"))
		cfg.POST("/webhooks/test", handleTestWebhook(deps))
		cfg.GET("/rooms/appearance", handleGetConfigSection(deps, "rooms"))
		cfg.PUT("/rooms/appearance", handlePutConfigSection(deps, "rooms"))
	}

	admin := protected.Group("/")
	admin.Use(RequireRole(persistence.RoleAdmin))
	{
		admin.POST("/users", handleCreateUser(deps))
		admin.POST("/api-keys", handleCreateAPIKey(deps))
		admin.POST("/api-keys/:keyId/rotate", handleRotateAPIKey(deps))
		admin.DELETE("/api-keys/:keyId", handleRevokeAPIKey(deps))
		admin.GET("/api-keys", handleListAPIKeys(deps))
	}

	return r
}

func cors(allowedOrigins []string) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	cfg := ginCors.DefaultConfig()
	cfg.AllowOrigins = allowedOrigins
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Authorization", "Content-Type", HeaderXCorrelationID}
	return ginCors.New(cfg)
}

type livenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func liveness(c *gin.Context) {
	c.JSON(http.StatusOK, livenessResponse{Status: "alive", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

type readinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func readiness(s *store.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"store": "healthy"}
		status := http.StatusOK
		if err := s.Ping(ctx); err != nil {
			checks["store"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		overall := "ready"
		if status != http.StatusOK {
			overall = "unavailable"
		}
		c.JSON(status, readinessResponse{Status: overall, Checks: checks, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	}
}
