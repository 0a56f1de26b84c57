package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leadbridge/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplates(t *testing.T) {
	c, err := render(Message{ToName: "Pat", Template: TemplateLeadPurchased, Data: map[string]string{
		"job_role": "title_agent", "lead_id": "L1", "amount": "100.00", "payment_reference": "pi_1",
	}})
	require.NoError(t, err)
	assert.Contains(t, c.text, "title_agent")
	assert.Contains(t, c.text, "pi_1")

	_, err = render(Message{Template: "unknown"})
	assert.Error(t, err)
}

func TestSendGridNotifier(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewSendGridNotifier(SendGridConfig{APIKey: "SG.test", FromEmail: "no-reply@leadbridge.test", FromName: "LeadBridge", Host: srv.URL})
	err := n.Notify(context.Background(), Message{
		ToEmail:  "affiliate@example.test",
		ToName:   "Acme",
		Template: TemplatePayoutPaid,
		Data:     map[string]string{"amount": "40.00", "lead_id": "L1", "reference": "tr_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Payout sent", body["subject"])
}

func TestSendGridNotifierFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	n := NewSendGridNotifier(SendGridConfig{APIKey: "SG.bad", FromEmail: "no-reply@leadbridge.test", Host: srv.URL})
	err := n.Notify(context.Background(), Message{ToEmail: "a@b.test", Template: TemplatePayoutPaid})
	assert.ErrorIs(t, err, models.ErrExternalDependency)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, LogNotifier{}.Notify(context.Background(), Message{Template: TemplateLeadRoleSold}))
	assert.Error(t, LogNotifier{}.Notify(context.Background(), Message{Template: "nope"}))
}
