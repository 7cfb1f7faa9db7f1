package routes

import (
	"digitaltwin/services/admin/internal/auth"
	"digitaltwin/services/admin/internal/handler"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Status     *handler.StatusHandler
	Validation *handler.ValidationHandler
	Sources    *handler.SourcesHandler
	DLQ        *handler.DLQHandler
	Webhook    *handler.WebhookHandler
}

func RegisterRoutes(router *gin.RouterGroup, h Handlers, authMiddleware *auth.Middleware) {
	// Read-only views
	router.GET("/status", h.Status.Status)
	router.GET("/validation-queue", h.Validation.Queue)

	admin := router.Group("")
	admin.Use(authMiddleware.RequireAdmin())
	{
		admin.POST("/trigger", h.Status.Trigger)

		validation := admin.Group("/validation/:id")
		validation.POST("/approve", h.Validation.Approve)
		validation.POST("/reject", h.Validation.Reject)
		validation.POST("/edit", h.Validation.Edit)
		validation.GET("/history", h.Validation.History)

		admin.GET("/sources", h.Sources.List)
		admin.POST("/sources", h.Sources.Create)
		admin.PATCH("/sources/:id", h.Sources.Update)
		admin.DELETE("/sources/:id", h.Sources.Delete)

		admin.GET("/dlq", h.DLQ.List)
		admin.DELETE("/dlq", h.DLQ.Clear)
	}
}

// RegisterWebhooks mounts the bridge endpoints, which authenticate with a
// shared secret instead of a token.
func RegisterWebhooks(router *gin.RouterGroup, h Handlers) {
	router.POST("/whatsapp", h.Webhook.WhatsApp)
}
