package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/middleware"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/lead"
	"github.com/leadbridge/backend/internal/utils"
	"github.com/shopspring/decimal"
)

// LeadHandler handles lead submission and configuration
type LeadHandler struct {
	leads *lead.LeadService
}

// NewLeadHandler creates a new lead handler
func NewLeadHandler(leads *lead.LeadService) *LeadHandler {
	return &LeadHandler{leads: leads}
}

// SubmitLead stores a new lead for the calling affiliate
func (h *LeadHandler) SubmitLead(c *gin.Context) {
	affiliateID, _, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req lead.SubmitInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}

	l, err := h.leads.SubmitLead(c.Request.Context(), affiliateID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// GetLead returns a lead. Affiliates see only their own leads and providers
// see the lead without consumer contact details.
func (h *LeadHandler) GetLead(c *gin.Context) {
	actorID, kind, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	l, err := h.leads.GetLead(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	switch kind {
	case utils.ActorAffiliate:
		if l.AffiliateID != actorID {
			respondError(c, models.ErrLeadNotFound)
			return
		}
		c.JSON(http.StatusOK, l)
	case utils.ActorProvider:
		c.JSON(http.StatusOK, providerView(l))
	default:
		c.JSON(http.StatusOK, l)
	}
}

// UpdateConfiguration changes the distribution settings of an open lead
func (h *LeadHandler) UpdateConfiguration(c *gin.Context) {
	affiliateID, _, ok := middleware.Actor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req lead.ConfigurationUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}

	l, err := h.leads.UpdateConfiguration(c.Request.Context(), affiliateID, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

type roleView struct {
	JobRole models.JobRole   `json:"job_role"`
	Enabled bool             `json:"enabled"`
	Price   decimal.Decimal  `json:"price"`
	State   models.SlotState `json:"state"`
}

type leadView struct {
	ID                 uuid.UUID                 `json:"id"`
	State              string                    `json:"state"`
	County             string                    `json:"county"`
	ZipCode            string                    `json:"zip_code"`
	DistributionMethod models.DistributionMethod `json:"distribution_method"`
	Status             models.LeadStatus         `json:"status"`
	ExpiresAt          time.Time                 `json:"expires_at"`
	Roles              []roleView                `json:"roles"`
}

func providerView(l *models.Lead) leadView {
	v := leadView{
		ID:                 l.ID,
		State:              l.State,
		County:             l.County,
		ZipCode:            l.ZipCode,
		DistributionMethod: l.DistributionMethod,
		Status:             l.Status,
		ExpiresAt:          l.ExpiresAt,
		Roles:              make([]roleView, 0, len(l.Slots)),
	}
	for _, s := range l.Slots {
		v.Roles = append(v.Roles, roleView{JobRole: s.JobRole, Enabled: s.Enabled, Price: s.Price, State: s.State})
	}
	return v
}
