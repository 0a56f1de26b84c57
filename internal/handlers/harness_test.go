package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/handlers"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/routes"
	"github.com/leadbridge/backend/internal/services/intent"
	"github.com/leadbridge/backend/internal/services/lead"
	"github.com/leadbridge/backend/internal/services/payment"
	stripeprovider "github.com/leadbridge/backend/internal/services/payment/providers/stripe"
	"github.com/leadbridge/backend/internal/services/payout"
	"github.com/leadbridge/backend/internal/services/settlement"
	"github.com/leadbridge/backend/internal/testutil"
	"github.com/leadbridge/backend/internal/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	signingSecret       = "generic-signing-secret"
	stripeWebhookSecret = "whsec_handler_test"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeCheckout hands out predictable sessions
type fakeCheckout struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *fakeCheckout) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.n++
	id := "cs_test_" + req.IntentID.String()
	return &payment.CheckoutSession{SessionID: id, URL: "https://checkout.test/" + id}, nil
}

type harness struct {
	db        *gorm.DB
	router    *gin.Engine
	tokens    *utils.TokenManager
	checkout  *fakeCheckout
	transfers *testutil.FakeTransfers
	notifier  *testutil.RecordingNotifier
	affiliate *models.Affiliate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewTestDB(t)
	h := &harness{
		db:        db,
		tokens:    utils.NewTokenManager("handler-secret", "accounts"),
		checkout:  &fakeCheckout{},
		transfers: &testutil.FakeTransfers{},
		notifier:  &testutil.RecordingNotifier{},
		affiliate: testutil.CreateAffiliate(t, db),
	}
	publisher := &testutil.RecordingPublisher{}

	effects := settlement.NewSaleEffects(db, h.notifier, publisher, nil, time.Second)
	settlements := settlement.NewSettlementService(db, effects)
	payouts := payout.NewPayoutService(db, h.transfers, h.notifier, publisher, nil, payout.Config{})
	intents := intent.NewIntentService(db, h.checkout, intent.Config{TTL: time.Hour})
	leads := lead.NewLeadService(db, 0)
	stripe := stripeprovider.NewProvider(stripeprovider.Config{WebhookSecret: stripeWebhookSecret})

	h.router = gin.New()
	routes.SetupRoutes(h.router, routes.Handlers{
		Webhooks: handlers.NewWebhookHandler(db, settlements, stripe, signingSecret),
		Leads:    handlers.NewLeadHandler(leads),
		Intents:  handlers.NewIntentHandler(intents),
		Admin:    handlers.NewAdminHandler(settlements, payouts),
		Health:   handlers.NewHealthHandler(db, nil),
	}, h.tokens, nil)
	return h
}

func (h *harness) token(t *testing.T, id uuid.UUID, kind utils.ActorKind) string {
	t.Helper()
	token, err := h.tokens.GenerateToken(id, kind, time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a JSON request; token may be empty
func (h *harness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// raw sends a body with extra headers
func (h *harness) raw(t *testing.T, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) openLead(t *testing.T, method models.DistributionMethod, roles ...testutil.RoleFixture) *models.Lead {
	t.Helper()
	return testutil.CreateLead(t, h.db, h.affiliate.ID, method, roles...)
}

func agentRole(curated ...uuid.UUID) testutil.RoleFixture {
	return testutil.RoleFixture{
		Role:           models.JobRoleRealEstateAgent,
		Enabled:        true,
		Price:          "100.00",
		AffiliatePrice: "40.00",
		Curated:        curated,
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
