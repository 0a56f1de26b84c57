package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/leadbridge/backend/internal/handlers"
)

// SetupWebhookRoutes configures routes for gateway webhooks. They are
// authenticated by signature, not by token.
func SetupWebhookRoutes(api *gin.RouterGroup, webhookHandler *handlers.WebhookHandler) {
	webhookGroup := api.Group("/webhooks")
	{
		webhookGroup.POST("/stripe", webhookHandler.StripeWebhook)
		webhookGroup.POST("/payments", webhookHandler.PaymentWebhook)
	}
}
