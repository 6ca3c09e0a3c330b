package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ovmeet/control-plane/internal/apierror"
	"github.com/ovmeet/control-plane/internal/persistence"
)

// sectionOf returns the named slice of cfg addressed by a /config/{section}
// route. section is one of "security", "webhooks", "rooms", matching the
// three map fields of persistence.GlobalConfig.
func sectionOf(cfg *persistence.GlobalConfig, section string) map[string]any {
	switch section {
	case "security":
		return cfg.SecurityConfig
	case "webhooks":
		return cfg.WebhooksConfig
	case "rooms":
		return cfg.RoomsConfig
	default:
		return nil
	}
}

func setSectionOf(cfg *persistence.GlobalConfig, section string, value map[string]any) {
	switch section {
	case "security":
		cfg.SecurityConfig = value
	case "webhooks":
		cfg.WebhooksConfig = value
	case "rooms":
		cfg.RoomsConfig = value
	}
}

func handleGetConfigSection(deps Deps, section string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := deps.Configs.Get(c.Request.Context())
		if err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sectionOf(cfg, section))
	}
}

func handlePutConfigSection(deps Deps, section string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			RespondError(c, apierror.Wrap(apierror.Validation, err, "invalid request body"))
			return
		}

		ctx := c.Request.Context()
		cfg, err := deps.Configs.Get(ctx)
		if err != nil {
			RespondError(c, err)
			return
		}

		setSectionOf(cfg, section, body)
		if err := deps.Configs.Put(ctx, cfg); err != nil {
			RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, body)
	}
}

// handleTestWebhook sends a synthetic delivery through deps.Webhooks so an
// operator can confirm the configured URL and secret actually work before
// relying on them for real meeting events.
func handleTestWebhook(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.Webhooks.SendTest(c.Request.Context()); err != nil {
			RespondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
