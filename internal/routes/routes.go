package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/leadbridge/backend/internal/handlers"
	"github.com/leadbridge/backend/internal/middleware"
	"github.com/leadbridge/backend/internal/utils"
)

// Handlers groups the HTTP handlers mounted by SetupRoutes
type Handlers struct {
	Webhooks *handlers.WebhookHandler
	Leads    *handlers.LeadHandler
	Intents  *handlers.IntentHandler
	Admin    *handlers.AdminHandler
	Health   *handlers.HealthHandler
}

// SetupRoutes registers every route of the service. limiter throttles
// checkout creation per provider and may be nil.
func SetupRoutes(router *gin.Engine, h Handlers, tokens middleware.TokenValidator, limiter *middleware.RateLimiter) {
	router.GET("/health", h.Health.Health)

	api := router.Group("/api/v1")
	SetupWebhookRoutes(api, h.Webhooks)

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(tokens))

	// Lead routes
	leads := authed.Group("/leads")
	{
		leads.POST("", middleware.RequireActor(utils.ActorAffiliate), h.Leads.SubmitLead)
		leads.GET("/:id", middleware.RequireActor(utils.ActorAffiliate, utils.ActorProvider), h.Leads.GetLead)
		leads.PUT("/:id/configuration", middleware.RequireActor(utils.ActorAffiliate), h.Leads.UpdateConfiguration)

		intentChain := []gin.HandlerFunc{middleware.RequireActor(utils.ActorProvider)}
		if limiter != nil {
			intentChain = append(intentChain, limiter.ActorRateLimiterMiddleware())
		}
		intentChain = append(intentChain, h.Intents.CreateIntent)
		leads.POST("/:id/roles/:role/intents", intentChain...)
	}

	authed.GET("/intents/:id", middleware.RequireActor(utils.ActorProvider), h.Intents.GetIntent)

	// Admin routes
	admin := authed.Group("/admin")
	admin.Use(middleware.RequireActor(utils.ActorAdmin))
	{
		admin.POST("/payouts/batches", h.Admin.RunPayoutBatch)
		admin.POST("/leads/:id/roles/:role/reverse", h.Admin.ReverseSale)
		admin.GET("/settlement-conflicts", h.Admin.ListConflicts)
		admin.POST("/settlement-conflicts/:id/resolve", h.Admin.ResolveConflict)
	}
}
