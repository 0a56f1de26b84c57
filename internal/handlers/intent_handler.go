package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/leadbridge/backend/internal/middleware"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/intent"
	"github.com/leadbridge/backend/internal/utils"
)

// IntentHandler handles purchase intents for providers
type IntentHandler struct {
	intents *intent.IntentService
}

// NewIntentHandler creates a new intent handler
func NewIntentHandler(intents *intent.IntentService) *IntentHandler {
	return &IntentHandler{intents: intents}
}

// CreateIntent opens a checkout for the calling provider on one role
func (h *IntentHandler) CreateIntent(c *gin.Context) {
	providerID, _, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	leadID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	role, ok := roleParam(c)
	if !ok {
		return
	}

	pi, err := h.intents.CreateIntent(c.Request.Context(), leadID, role, providerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"intent_id":           pi.ID,
		"external_session_id": pi.ExternalSessionID,
		"checkout_url":        pi.CheckoutURL,
		"amount":              pi.Amount,
		"expires_at":          pi.ExpiresAt,
	})
}

// GetIntent returns one of the caller's intents
func (h *IntentHandler) GetIntent(c *gin.Context) {
	actorID, kind, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	pi, err := h.intents.GetIntent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	// other providers' intents are indistinguishable from missing ones
	if kind != utils.ActorAdmin && pi.ProviderID != actorID {
		respondError(c, models.ErrIntentNotFound)
		return
	}
	c.JSON(http.StatusOK, pi)
}
