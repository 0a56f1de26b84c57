package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leadbridge/backend/internal/middleware"
	"github.com/leadbridge/backend/internal/services/payout"
	"github.com/leadbridge/backend/internal/services/settlement"
)

// AdminHandler handles operator actions on sales and payouts
type AdminHandler struct {
	settlements *settlement.SettlementService
	payouts     *payout.PayoutService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(settlements *settlement.SettlementService, payouts *payout.PayoutService) *AdminHandler {
	return &AdminHandler{settlements: settlements, payouts: payouts}
}

// RunPayoutBatch runs one payout batch now. An optional RFC3339 cutoff in
// the body pays only purchases old enough at that time.
func (h *AdminHandler) RunPayoutBatch(c *gin.Context) {
	var req struct {
		Cutoff *time.Time `json:"cutoff"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
			return
		}
	}
	cutoff := time.Now().UTC()
	if req.Cutoff != nil {
		cutoff = *req.Cutoff
	}

	result, err := h.payouts.RunBatch(c.Request.Context(), cutoff)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ReverseSale undoes a purchase so the role can be sold again
func (h *AdminHandler) ReverseSale(c *gin.Context) {
	adminID, _, ok := middleware.Actor(c)
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

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}

	reversal, err := h.settlements.ReverseSale(c.Request.Context(), leadID, role, adminID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reversal)
}

// ListConflicts returns payments that could not be applied
func (h *AdminHandler) ListConflicts(c *gin.Context) {
	all, _ := strconv.ParseBool(c.DefaultQuery("all", "false"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	conflicts, err := h.settlements.ListConflicts(c.Request.Context(), all, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "count": len(conflicts)})
}

// ResolveConflict marks a conflict as handled
func (h *AdminHandler) ResolveConflict(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.settlements.ResolveConflict(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
