package handlers_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/testutil"
	"github.com/leadbridge/backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestCreateAndGetIntent(t *testing.T) {
	h := newHarness(t)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	token := h.token(t, agent.ID, utils.ActorProvider)
	path := fmt.Sprintf("/api/v1/leads/%s/roles/real_estate_agent/intents", lead.ID)

	w := h.do(t, http.MethodPost, path, token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode(t, w)
	intentID := resp["intent_id"].(string)
	assert.Equal(t, "cs_test_"+intentID, resp["external_session_id"])
	assert.Equal(t, "https://checkout.test/cs_test_"+intentID, resp["checkout_url"])

	w = h.do(t, http.MethodGet, "/api/v1/intents/"+intentID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.IntentCreated), decode(t, w)["status"])

	// another provider cannot see it
	other := h.token(t, uuid.New(), utils.ActorProvider)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/intents/"+intentID, other, nil).Code)
}

func TestCreateIntentErrors(t *testing.T) {
	h := newHarness(t)
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	outsider := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "CA", "Orange")
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	path := fmt.Sprintf("/api/v1/leads/%s/roles/real_estate_agent/intents", lead.ID)

	w := h.do(t, http.MethodPost, path, h.token(t, h.affiliate.ID, utils.ActorAffiliate), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodPost, path, "", nil).Code)

	w = h.do(t, http.MethodPost, path, h.token(t, outsider.ID, utils.ActorProvider), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_eligible", decode(t, w)["error"])

	token := h.token(t, agent.ID, utils.ActorProvider)
	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/leads/%s/roles/title_agent/intents", lead.ID), token, nil)
	assert.Equal(t, http.StatusGone, w.Code)

	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/leads/%s/roles/plumber/intents", lead.ID), token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/leads/%s/roles/real_estate_agent/intents", uuid.New()), token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	h.checkout.err = models.NewExternalDependencyError("checkout", errors.New("stripe down"))
	w = h.do(t, http.MethodPost, path, token, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "external_dependency_failure", decode(t, w)["error"])
}

func TestSubmitAndViewLead(t *testing.T) {
	h := newHarness(t)
	affiliate := h.token(t, h.affiliate.ID, utils.ActorAffiliate)

	w := h.do(t, http.MethodPost, "/api/v1/leads", affiliate, map[string]interface{}{
		"first_name": "Ana",
		"last_name":  "Lopez",
		"email":      "ana@example.test",
		"phone":      "555-0101",
		"state":      "TX",
		"county":     "Travis",
		"roles": []map[string]interface{}{
			{"job_role": "real_estate_agent", "enabled": true, "price": "120.00", "affiliate_price": "50.00"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	leadID := decode(t, w)["id"].(string)

	w = h.do(t, http.MethodGet, "/api/v1/leads/"+leadID, affiliate, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana@example.test", decode(t, w)["email"])

	// providers do not see contact details
	provider := h.token(t, uuid.New(), utils.ActorProvider)
	w = h.do(t, http.MethodGet, "/api/v1/leads/"+leadID, provider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode(t, w)
	assert.NotContains(t, view, "email")
	assert.Len(t, view["roles"], 1)

	// other affiliates do not see the lead at all
	stranger := h.token(t, uuid.New(), utils.ActorAffiliate)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/api/v1/leads/"+leadID, stranger, nil).Code)

	w = h.do(t, http.MethodPost, "/api/v1/leads", affiliate, map[string]interface{}{
		"first_name": "Ana", "last_name": "Lopez", "email": "ana@example.test", "state": "Texas", "county": "Travis",
		"roles": []map[string]interface{}{{"job_role": "real_estate_agent"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateConfigurationHandler(t *testing.T) {
	h := newHarness(t)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	path := fmt.Sprintf("/api/v1/leads/%s/configuration", lead.ID)
	owner := h.token(t, h.affiliate.ID, utils.ActorAffiliate)

	w := h.do(t, http.MethodPut, path, owner, map[string]interface{}{
		"roles": []map[string]interface{}{{"job_role": "real_estate_agent", "price": "110.00"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(t, http.MethodPut, path, h.token(t, uuid.New(), utils.ActorAffiliate), map[string]interface{}{"roles": []interface{}{}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	testutil.CreatePurchase(t, h.db, lead, models.JobRoleRealEstateAgent, agent.ID, "pi_1", time.Now().UTC())
	w = h.do(t, http.MethodPut, path, owner, map[string]interface{}{
		"roles": []map[string]interface{}{{"job_role": "real_estate_agent", "price": "90.00"}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "role_already_sold", decode(t, w)["error"])
}

func TestAdminEndpoints(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, uuid.New(), utils.ActorAdmin)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	rival := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")

	for _, sale := range []struct {
		provider uuid.UUID
		ref      string
	}{{agent.ID, "pi_win"}, {rival.ID, "pi_lose"}} {
		body := paymentBody(t, lead, models.JobRoleRealEstateAgent, sale.provider, sale.ref)
		h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body))
	}

	// non-admins are rejected
	affiliate := h.token(t, h.affiliate.ID, utils.ActorAffiliate)
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/api/v1/admin/settlement-conflicts", affiliate, nil).Code)

	w := h.do(t, http.MethodGet, "/api/v1/admin/settlement-conflicts", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.Equal(t, float64(1), resp["count"])
	conflict := resp["conflicts"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "pi_lose", conflict["payment_reference"])

	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/settlement-conflicts/%s/resolve", conflict["id"]), admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/settlement-conflicts/%s/resolve", conflict["id"]), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = h.do(t, http.MethodGet, "/api/v1/admin/settlement-conflicts?all=true", admin, nil)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	w = h.do(t, http.MethodPost, "/api/v1/admin/payouts/batches", admin, map[string]interface{}{"cutoff": "2100-01-01T00:00:00Z"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode(t, w)["processed_count"])
	assert.Len(t, h.transfers.Requests, 1)

	// a paid sale cannot be reversed
	reverse := fmt.Sprintf("/api/v1/admin/leads/%s/roles/real_estate_agent/reverse", lead.ID)
	w = h.do(t, http.MethodPost, reverse, admin, map[string]interface{}{"reason": "chargeback"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "payout_already_paid", decode(t, w)["error"])

	w = h.do(t, http.MethodPost, reverse, admin, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminReverseSale(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, uuid.New(), utils.ActorAdmin)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	body := paymentBody(t, lead, models.JobRoleRealEstateAgent, agent.ID, "pi_1")
	require.Equal(t, http.StatusOK, h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body)).Code)

	w := h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/leads/%s/roles/real_estate_agent/reverse", lead.ID), admin,
		map[string]interface{}{"reason": "duplicate charge"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pi_1", decode(t, w)["payment_reference"])
	assert.Equal(t, models.SlotUnsold, testutil.Slot(t, h.db, lead.ID, models.JobRoleRealEstateAgent).State)
}

func TestReversedRoleAcceptsNewCheckout(t *testing.T) {
	h := newHarness(t)
	admin := h.token(t, uuid.New(), utils.ActorAdmin)
	lead := h.openLead(t, models.DistributionOpen, agentRole())
	agent := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	rival := testutil.CreateProvider(t, h.db, models.JobRoleRealEstateAgent, "TX", "Travis")
	path := fmt.Sprintf("/api/v1/leads/%s/roles/real_estate_agent/intents", lead.ID)

	w := h.do(t, http.MethodPost, path, h.token(t, agent.ID, utils.ActorProvider), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sessionID := decode(t, w)["external_session_id"].(string)

	body, err := json.Marshal(map[string]interface{}{
		"event_type":        "payment_confirmed",
		"lead_id":           lead.ID,
		"job_role":          models.JobRoleRealEstateAgent,
		"provider_id":       agent.ID,
		"payment_reference": "pi_1",
		"session_id":        sessionID,
		"amount_paid":       "100.00",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, h.raw(t, "/api/v1/webhooks/payments", body, h.signed(t, body)).Code)
	assert.Equal(t, int64(1), testutil.Count(t, h.db, &models.PurchaseIntent{}, "status = ?", models.IntentConfirmed))

	// sold roles take no new checkouts
	w = h.do(t, http.MethodPost, path, h.token(t, rival.ID, utils.ActorProvider), nil)
	assert.NotEqual(t, http.StatusCreated, w.Code)

	w = h.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/leads/%s/roles/real_estate_agent/reverse", lead.ID), admin,
		map[string]interface{}{"reason": "chargeback"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(t, http.MethodPost, path, h.token(t, rival.ID, utils.ActorProvider), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["checkout_url"])
}
