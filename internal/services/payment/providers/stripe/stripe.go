// Package stripe adapts Stripe Checkout, Connect transfers and webhooks to
// the payment interfaces
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/payment"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/datatypes"
)

// Config holds the Stripe settings the provider needs
type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
	// BackendURL overrides the API endpoint, used by tests
	BackendURL string
}

// Provider implements payment.CheckoutProvider and payment.TransferProvider
type Provider struct {
	api *client.API
	cfg Config
}

// NewProvider creates a Stripe provider
func NewProvider(cfg Config) *Provider {
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}

	api := &client.API{}
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	api.Init(cfg.SecretKey, backends)

	return &Provider{api: api, cfg: cfg}
}

// CreateCheckout opens a one-item hosted checkout for the role price
func (p *Provider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	cents, err := payment.ToCents(req.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.IntentID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.cfg.Currency),
					UnitAmount: stripe.Int64(cents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(payment.MetadataIntentID, req.IntentID.String())
	params.AddMetadata(payment.MetadataLeadID, req.LeadID.String())
	params.AddMetadata(payment.MetadataJobRole, string(req.JobRole))
	params.AddMetadata(payment.MetadataProviderID, req.ProviderID.String())
	params.SetIdempotencyKey(fmt.Sprintf("%s-checkout", req.IntentID))

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, models.NewExternalDependencyError("stripe checkout", describe(err))
	}
	return &payment.CheckoutSession{SessionID: s.ID, URL: s.URL}, nil
}

// Transfer sends funds to the affiliate's connected account
func (p *Provider) Transfer(ctx context.Context, req payment.TransferRequest) (*payment.TransferResult, error) {
	cents, err := payment.ToCents(req.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(cents),
		Currency:    stripe.String(p.cfg.Currency),
		Destination: stripe.String(req.Destination),
	}
	params.Context = ctx
	params.AddMetadata(payment.MetadataPayoutID, req.PayoutID.String())
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	t, err := p.api.Transfers.New(params)
	if err != nil {
		if declined(err) {
			err = fmt.Errorf("%w: %v", payment.ErrTransferDeclined, describe(err))
		} else {
			err = describe(err)
		}
		return nil, models.NewExternalDependencyError("stripe transfer", err)
	}
	return &payment.TransferResult{Reference: t.ID}, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes
// checkout completion events. Other event types come back unconfirmed.
func (p *Provider) ParseWebhook(payload []byte, signature string) (*payment.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var raw datatypes.JSONMap
	_ = json.Unmarshal(payload, &raw)

	out := &payment.PaymentEvent{
		Provider:  payment.ProviderStripe,
		EventID:   event.ID,
		EventType: string(event.Type),
		Payload:   raw,
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return out, nil
	}

	var session stripe.CheckoutSession
	if event.Data == nil {
		return nil, fmt.Errorf("%w: missing event data", models.ErrInvalidEvent)
	}
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidEvent, err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return out, nil
	}

	out.EventType = payment.EventPaymentConfirmed
	out.SessionID = session.ID
	out.LeadID = session.Metadata[payment.MetadataLeadID]
	out.JobRole = session.Metadata[payment.MetadataJobRole]
	out.ProviderID = session.Metadata[payment.MetadataProviderID]
	out.AmountPaid = payment.FromCents(session.AmountTotal)
	out.PaymentReference = session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		out.PaymentReference = session.PaymentIntent.ID
	}
	return out, nil
}

// ErrInvalidSignature is returned for payloads that fail verification
var ErrInvalidSignature = errors.New("invalid stripe signature")

func describe(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code != "" {
		return fmt.Errorf("%s: %s", stripeErr.Code, stripeErr.Msg)
	}
	return err
}

// declined reports a 4xx answer that Stripe did not execute. 409 is an
// idempotency conflict and 429 a rate limit; both are retried as is.
func declined(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	code := stripeErr.HTTPStatusCode
	return code >= 400 && code < 500 && code != 409 && code != 429
}
