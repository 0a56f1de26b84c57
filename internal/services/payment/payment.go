// Package payment defines the gateway capabilities the sale core depends on:
// hosted checkout, payout transfers and webhook parsing.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Gateway names stored on webhook events
const (
	ProviderStripe  = "stripe"
	ProviderGeneric = "generic"
)

// EventPaymentConfirmed is the normalized type of a settled payment
const EventPaymentConfirmed = "payment_confirmed"

// CheckoutRequest describes the role a provider is paying for
type CheckoutRequest struct {
	IntentID    uuid.UUID
	LeadID      uuid.UUID
	JobRole     models.JobRole
	ProviderID  uuid.UUID
	Amount      decimal.Decimal
	Description string
}

// CheckoutSession is the hosted checkout returned by the gateway
type CheckoutSession struct {
	SessionID string
	URL       string
}

// CheckoutProvider opens hosted checkout sessions
type CheckoutProvider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// TransferRequest moves an affiliate payout to their connected account
type TransferRequest struct {
	PayoutID       uuid.UUID
	Destination    string
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       map[string]string
}

// TransferResult carries the gateway's transfer reference
type TransferResult struct {
	Reference string
}

// ErrTransferDeclined marks a transfer the gateway rejected outright. Any
// other transfer error may have executed and must be retried with the same
// idempotency key.
var ErrTransferDeclined = errors.New("transfer declined")

// IsDeclined reports whether err is a definitive transfer rejection
func IsDeclined(err error) bool {
	return errors.Is(err, ErrTransferDeclined)
}

// TransferProvider sends payout transfers
type TransferProvider interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// PaymentEvent is a gateway webhook normalized to the fields settlement
// needs. Identifiers stay strings until settlement validates them.
type PaymentEvent struct {
	Provider         string
	EventID          string
	EventType        string
	LeadID           string
	JobRole          string
	ProviderID       string
	PaymentReference string
	AmountPaid       decimal.Decimal
	SessionID        string
	Payload          datatypes.JSONMap
}

// Confirmed reports whether the event settles a payment
func (e *PaymentEvent) Confirmed() bool {
	return e.EventType == EventPaymentConfirmed
}

// Metadata keys written on checkout sessions and read back from webhooks
const (
	MetadataIntentID   = "intent_id"
	MetadataLeadID     = "lead_id"
	MetadataJobRole    = "job_role"
	MetadataProviderID = "provider_id"
	MetadataPayoutID   = "payout_id"
)

// ToCents converts a two-decimal USD amount to minor units
func ToCents(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	cents := amount.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-cent precision", amount)
	}
	return cents.IntPart(), nil
}

// FromCents converts minor units to a decimal amount
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
