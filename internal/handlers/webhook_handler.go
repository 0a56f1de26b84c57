package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/payment"
	"github.com/leadbridge/backend/internal/services/settlement"
	"github.com/leadbridge/backend/internal/utils"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxWebhookBody = 1 << 20

// SignatureHeader carries the HMAC of generic payment events
const SignatureHeader = "X-Signature"

// WebhookParser verifies and normalizes a gateway webhook
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.PaymentEvent, error)
}

// Settler applies confirmed payments to the role ledger
type Settler interface {
	Settle(ctx context.Context, p settlement.ConfirmedPayment) (*settlement.Result, error)
}

// WebhookHandler handles payment webhooks from the gateway
type WebhookHandler struct {
	db            *gorm.DB
	settler       Settler
	stripe        WebhookParser
	signingSecret string
}

// NewWebhookHandler creates a new webhook handler. stripe may be nil when
// the Stripe integration is not configured.
func NewWebhookHandler(db *gorm.DB, settler Settler, stripe WebhookParser, signingSecret string) *WebhookHandler {
	return &WebhookHandler{
		db:            db,
		settler:       settler,
		stripe:        stripe,
		signingSecret: signingSecret,
	}
}

// genericEvent is the body of POST /webhooks/payments
type genericEvent struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	LeadID           string          `json:"lead_id"`
	JobRole          string          `json:"job_role"`
	ProviderID       string          `json:"provider_id"`
	PaymentReference string          `json:"payment_reference"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	SessionID        string          `json:"session_id"`
}

// StripeWebhook handles Stripe checkout events
func (h *WebhookHandler) StripeWebhook(c *gin.Context) {
	if h.stripe == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stripe webhooks are not configured"})
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}

	ev, err := h.stripe.ParseWebhook(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, models.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": err.Error()})
			return
		}
		log.Printf("Rejected stripe webhook: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}
	h.handle(c, ev)
}

// PaymentWebhook handles generic signed payment events
func (h *WebhookHandler) PaymentWebhook(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if !utils.VerifyHMAC(body, c.GetHeader(SignatureHeader), h.signingSecret) {
		log.Printf("Rejected payment webhook from %s: bad signature", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload genericEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "invalid payload"})
		return
	}
	var raw datatypes.JSONMap
	_ = json.Unmarshal(body, &raw)

	eventID := strings.TrimSpace(payload.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(payload.PaymentReference)
	}
	if eventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "event_id or payment_reference is required"})
		return
	}

	h.handle(c, &payment.PaymentEvent{
		Provider:         payment.ProviderGeneric,
		EventID:          eventID,
		EventType:        payload.EventType,
		LeadID:           payload.LeadID,
		JobRole:          payload.JobRole,
		ProviderID:       payload.ProviderID,
		PaymentReference: payload.PaymentReference,
		AmountPaid:       payload.AmountPaid,
		SessionID:        payload.SessionID,
		Payload:          raw,
	})
}

func (h *WebhookHandler) handle(c *gin.Context, ev *payment.PaymentEvent) {
	ctx := c.Request.Context()
	if err := h.recordDelivery(ctx, ev); err != nil {
		log.Printf("Error recording webhook %s/%s: %v", ev.Provider, ev.EventID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	if !ev.Confirmed() {
		h.markOutcome(ctx, ev, models.WebhookIgnored, "")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	confirmed, err := settlement.FromPaymentEvent(ev)
	if err != nil {
		h.markOutcome(ctx, ev, models.WebhookFailed, err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": err.Error()})
		return
	}

	result, err := h.settler.Settle(ctx, confirmed)
	if err != nil {
		status, code := classify(webhookErrors, err)
		switch status {
		case http.StatusConflict, http.StatusGone, http.StatusUnprocessableEntity:
			h.markOutcome(ctx, ev, models.WebhookConflict, err.Error())
			if ev.Provider == payment.ProviderStripe {
				// Stripe redelivers anything but 2xx for days
				c.JSON(http.StatusOK, gin.H{"status": "conflict", "error": code})
				return
			}
		default:
			h.markOutcome(ctx, ev, models.WebhookFailed, err.Error())
		}
		if status == http.StatusInternalServerError {
			log.Printf("Error settling %s/%s: %v", ev.Provider, ev.EventID, err)
			c.JSON(status, gin.H{"error": code})
			return
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	h.markOutcome(ctx, ev, models.WebhookProcessed, "")
	resp := gin.H{"status": "processed", "duplicate": result.Duplicate, "lead_sold": result.LeadSold}
	if result.Duplicate {
		resp["status"] = "duplicate"
	}
	if result.Record != nil {
		resp["purchase_record_id"] = result.Record.ID
	}
	c.JSON(http.StatusOK, resp)
}

// recordDelivery stores the event on first delivery and counts redeliveries
func (h *WebhookHandler) recordDelivery(ctx context.Context, ev *payment.PaymentEvent) error {
	row := models.WebhookEvent{
		Provider:        ev.Provider,
		ProviderEventID: ev.EventID,
		EventType:       ev.EventType,
		Payload:         ev.Payload,
		Status:          models.WebhookReceived,
		Deliveries:      1,
	}
	db := h.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("error storing webhook event: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return db.Model(&models.WebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", ev.Provider, ev.EventID).
		Update("deliveries", gorm.Expr("deliveries + 1")).Error
}

func (h *WebhookHandler) markOutcome(ctx context.Context, ev *payment.PaymentEvent, status models.WebhookEventStatus, msg string) {
	now := time.Now().UTC()
	err := h.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", ev.Provider, ev.EventID).
		Updates(map[string]interface{}{"status": status, "error": msg, "processed_at": now}).Error
	if err != nil {
		log.Printf("Error updating webhook %s/%s to %s: %v", ev.Provider, ev.EventID, status, err)
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "unreadable body"})
		return nil, false
	}
	return body, true
}
