package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/settlement"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// apiErrors maps service errors to responses for the authenticated API
var apiErrors = []errorMapping{
	{models.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{models.ErrForbidden, http.StatusForbidden, "forbidden"},
	{models.ErrNotEligible, http.StatusForbidden, "not_eligible"},
	{models.ErrLeadNotFound, http.StatusNotFound, "lead_not_found"},
	{models.ErrIntentNotFound, http.StatusNotFound, "intent_not_found"},
	{models.ErrPurchaseNotFound, http.StatusNotFound, "purchase_not_found"},
	{settlement.ErrConflictNotFound, http.StatusNotFound, "conflict_not_found"},
	{models.ErrRoleAlreadyReserved, http.StatusConflict, "role_already_reserved"},
	{models.ErrRoleAlreadySold, http.StatusConflict, "role_already_sold"},
	{models.ErrLeadClosed, http.StatusConflict, "lead_closed"},
	{models.ErrPayoutAlreadyPaid, http.StatusConflict, "payout_already_paid"},
	{settlement.ErrPayoutInFlight, http.StatusConflict, "payout_in_flight"},
	{models.ErrRoleUnavailable, http.StatusGone, "role_unavailable"},
	{models.ErrExternalDependency, http.StatusBadGateway, "external_dependency_failure"},
}

// webhookErrors maps settlement errors for the generic payment webhook.
// Conflict statuses tell the sender the payment needs a refund; the Stripe
// webhook acknowledges recorded conflicts with 200 instead.
var webhookErrors = []errorMapping{
	{models.ErrRoleAlreadyReserved, http.StatusConflict, "role_already_reserved"},
	{models.ErrNotEligible, http.StatusUnprocessableEntity, "not_eligible"},
	{models.ErrRoleUnavailable, http.StatusGone, "role_unavailable"},
	{models.ErrInvalidEvent, http.StatusBadRequest, "invalid_event"},
	{models.ErrLeadNotFound, http.StatusBadRequest, "lead_not_found"},
}

func classify(mappings []errorMapping, err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError writes the API error response for err
func respondError(c *gin.Context, err error) {
	status, code := classify(apiErrors, err)
	if status == http.StatusInternalServerError {
		log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": code})
		return
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// uuidParam parses a path parameter, writing a 400 when it is malformed
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// roleParam parses the :role path parameter
func roleParam(c *gin.Context) (models.JobRole, bool) {
	role, err := models.ParseJobRole(c.Param("role"))
	if err != nil {
		respondError(c, err)
		return "", false
	}
	return role, true
}
