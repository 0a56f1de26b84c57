package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/handlers"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/payment"
	"github.com/leadbridge/backend/internal/testutil"
	"github.com/leadbridge/backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func paymentBody(t *testing.T, lead *models.Lead, role models.JobRole, providerID uuid.UUID, ref string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"event_type":        "payment_confirmed",
		"lead_id":           lead.ID,
		"job_role":          role,
		"provider_id":       providerID,
		"payment_reference": ref,
		"amount_paid":       "100.00",
	})
	require.NoError(t, err)
	return body
}

func (h *harness) signed(t *testing.T, body []byte) map[string]string {
	return map[string]string{handlers.SignatureHeader: utils.SignHMAC(body, signingSecret)}
}

func webhookRow(t *testing.T, h *harness, eventID string) models.WebhookEvent {
	t.Helper()
	var row models.WebhookEvent
	require.NoError(t, h.db.Where("provider_event_id = ?", eventID).First(&row).Error)
	return row
}

func TestPaymentWebhookSettlesAndDeduplicates(t *testing.T) {
	h := newHarness(t)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	body := paymentBody(t, lead, models.JobRoleRealEstateAgent, agent.ID, "pi_100")

	w := h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "processed", resp["status"])
	assert.Equal(t, true, resp["lead_sold"])
	assert.NotEmpty(t, resp["purchase_record_id"])

	w = h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "duplicate", decode(t, w)["status"])

	assert.Equal(t, int64(1), testutil.Count(t, h.db, &models.PurchaseRecord{}, ""))
	row := webhookRow(t, h, "pi_100")
	assert.Equal(t, 2, row.Deliveries)
	assert.Equal(t, models.WebhookProcessed, row.Status)
	assert.NotNil(t, row.ProcessedAt)
	assert.Equal(t, "pi_100", row.Payload["payment_reference"])
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	body := paymentBody(t, lead, models.JobRoleRealEstateAgent, uuid.New(), "pi_1")

	w := h.raw(t, "/api/v1/webhooks/payments", body, map[string]string{handlers.SignatureHeader: utils.SignHMAC(body, "wrong")})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.raw(t, "/api/v1/webhooks/payments", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, testutil.Count(t, h.db, &models.WebhookEvent{}, ""))
}

func TestPaymentWebhookConflictStatuses(t *testing.T) {
	h := newHarness(t)
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	rival := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")

	// lost race
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	first := paymentBody(t, lead, models.JobRoleRealEstateAgent, agent.ID, "pi_a")
	require.Equal(t, http.StatusOK, h.raw(t, "/api/v1/webhooks/payments", first, h.signed(t, first)).Code)
	second := paymentBody(t, lead, models.JobRoleRealEstateAgent, rival.ID, "pi_b")
	w := h.raw(t, "/api/v1/webhooks/payments", second, h.signed(t, second))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "role_already_reserved", decode(t, w)["error"])
	assert.Equal(t, models.WebhookConflict, webhookRow(t, h, "pi_b").Status)

	// curated allow-list excludes the buyer
	curated := h.openLead(t, models.DistributionCurated, agentRole(agent.ID))
	body := paymentBody(t, curated, models.JobRoleRealEstateAgent, rival.ID, "pi_c")
	w = h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "not_eligible", decode(t, w)["error"])

	// role not enabled
	disabled := h.openLead(t, models.DistributionOpen, testutil.RoleFixture{Role: models.JobRoleRealEstateAgent, Price: "100.00"})
	body = paymentBody(t, disabled, models.JobRoleRealEstateAgent, agent.ID, "pi_d")
	w = h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body))
	assert.Equal(t, http.StatusGone, w.Code)
	assert.Equal(t, "role_unavailable", decode(t, w)["error"])

	assert.Equal(t, int64(3), testutil.Count(t, h.db, &models.SettlementConflict{}, ""))
}

func TestPaymentWebhookInvalidAndIgnored(t *testing.T) {
	h := newHarness(t)

	body := []byte(`{"event_type":"payment_confirmed","lead_id":"nope","job_role":"real_estate_agent","payment_reference":"pi_bad"}`)
	w := h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.WebhookFailed, webhookRow(t, h, "pi_bad").Status)

	body = []byte(`{"event_type":"payment_confirmed","lead_id":"` + uuid.NewString() + `","job_role":"real_estate_agent","provider_id":"` + uuid.NewString() + `","payment_reference":"pi_ghost"}`)
	w = h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "lead_not_found", decode(t, w)["error"])

	body = []byte(`{"event_id":"evt_refund","event_type":"payment_refunded","payment_reference":"pi_x"}`)
	w = h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ignored", decode(t, w)["status"])
	assert.Equal(t, models.WebhookIgnored, webhookRow(t, h, "evt_refund").Status)

	body = []byte(`{"event_type":"payment_confirmed"}`)
	assert.Equal(t, http.StatusBadRequest, h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body)).Code)
	body = []byte(`not json`)
	assert.Equal(t, http.StatusBadRequest, h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body)).Code)
}

func stripeCheckout(t *testing.T, lead *models.Lead, providerID uuid.UUID) ([]byte, string) {
	return stripeCheckoutPaid(t, lead, providerID, "pi_stripe_1")
}

func stripeCheckoutPaid(t *testing.T, lead *models.Lead, providerID uuid.UUID, paymentIntent string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":     "evt_" + uuid.NewString()[:8],
		"object": "event",
		"type":   "checkout.session.completed",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":             "cs_test_1",
				"object":         "checkout.session",
				"payment_status": "paid",
				"amount_total":   10000,
				"payment_intent": "pi_stripe_1",
				"metadata": map[string]string{
					"lead_id":     lead.ID.String(),
					"job_role":    string(models.JobRoleRealEstateAgent),
					"provider_id": providerID.String(),
				},
			},
		},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    stripeWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestStripeWebhook(t *testing.T) {
	h := newHarness(t)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")

	payload, header := stripeCheckout(t, lead, agent.ID)
	w := h.raw(t, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var record models.PurchaseRecord
	require.NoError(t, h.db.First(&record).Error)
	assert.Equal(t, "pi_stripe_1", record.PaymentReference)
	assert.Equal(t, agent.ID, record.ProviderID)

	w = h.raw(t, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": "t=1,v1=deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStripeWebhookAcknowledgesConflict(t *testing.T) {
	h := newHarness(t)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	rival := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")

	payload, header := stripeCheckoutPaid(t, lead, agent.ID, "pi_stripe_1")
	require.Equal(t, http.StatusOK, h.raw(t, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header}).Code)

	payload, header = stripeCheckoutPaid(t, lead, rival.ID, "pi_stripe_2")
	w := h.raw(t, "/api/v1/webhooks/stripe", payload, map[string]string{"Stripe-Signature": header})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "conflict", resp["status"])
	assert.Equal(t, "role_already_reserved", resp["error"])

	assert.Equal(t, int64(1), testutil.Count(t, h.db, &models.PurchaseRecord{}, ""))
	assert.Equal(t, int64(1), testutil.Count(t, h.db, &models.SettlementConflict{}, "payment_reference = ?", "pi_stripe_2"))
	assert.Equal(t, int64(1), testutil.Count(t, h.db, &models.WebhookEvent{}, "provider = ? AND status = ?", payment.ProviderStripe, models.WebhookConflict))
}
