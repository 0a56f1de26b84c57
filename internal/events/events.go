// Package events publishes sale and payout facts to downstream consumers
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	TypeRoleSold   = "lead.role_sold"
	TypeLeadSold   = "lead.sold"
	TypePayoutPaid = "payout.paid"
)

// Publisher delivers an encoded event. partitionKey keeps a lead's events ordered.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// Envelope wraps every published payload
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// RoleSold is published once per settled purchase record
type RoleSold struct {
	LeadID           uuid.UUID       `json:"lead_id"`
	JobRole          string          `json:"job_role"`
	ProviderID       uuid.UUID       `json:"provider_id"`
	AffiliateID      uuid.UUID       `json:"affiliate_id"`
	PurchaseRecordID uuid.UUID       `json:"purchase_record_id"`
	PaymentReference string          `json:"payment_reference"`
	AcquisitionCost  decimal.Decimal `json:"acquisition_cost"`
	PurchasedAt      time.Time       `json:"purchased_at"`
}

// LeadSold is published when the last enabled role of a lead sells
type LeadSold struct {
	LeadID      uuid.UUID `json:"lead_id"`
	AffiliateID uuid.UUID `json:"affiliate_id"`
	SoldAt      time.Time `json:"sold_at"`
}

// PayoutPaid is published after a payout transfer succeeds
type PayoutPaid struct {
	PayoutID          uuid.UUID       `json:"payout_id"`
	AffiliateID       uuid.UUID       `json:"affiliate_id"`
	LeadID            uuid.UUID       `json:"lead_id"`
	Amount            decimal.Decimal `json:"amount"`
	ExternalReference string          `json:"external_reference"`
	PaidAt            time.Time       `json:"paid_at"`
}

// Encode wraps data in an Envelope. eventID should be stable for a given
// fact so consumers can drop redeliveries.
func Encode(eventID, eventType string, data interface{}, occurredAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		EventID:    eventID,
		EventType:  eventType,
		OccurredAt: occurredAt.UTC(),
		Data:       raw,
	})
}
