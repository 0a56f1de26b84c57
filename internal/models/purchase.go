package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentStatus tracks a checkout attempt
type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentConfirmed IntentStatus = "confirmed"
	IntentExpired   IntentStatus = "expired"
)

// PurchaseIntent records a provider's checkout attempt on a role slot.
// LiveKey is set to (lead, role, provider) while the intent is CREATED and
// ConfirmedKey to (lead, role) once it is CONFIRMED. Both are unique and
// nullable so storage enforces one live intent per provider and one
// confirmed intent per slot.
type PurchaseIntent struct {
	Base
	LeadID            uuid.UUID       `gorm:"type:uuid;not null;index:idx_intents_slot" json:"lead_id"`
	JobRole           JobRole         `gorm:"type:varchar(50);not null;index:idx_intents_slot" json:"job_role"`
	ProviderID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"provider_id"`
	ExternalSessionID string          `gorm:"type:varchar(255);index" json:"external_session_id"`
	CheckoutURL       string          `gorm:"type:text" json:"checkout_url,omitempty"`
	Amount            decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status            IntentStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	ExpiresAt         time.Time       `gorm:"not null;index" json:"expires_at"`
	ConfirmedAt       *time.Time      `json:"confirmed_at,omitempty"`
	PaymentReference  *string         `gorm:"type:varchar(255)" json:"payment_reference,omitempty"`
	LiveKey           *string         `gorm:"type:varchar(200);uniqueIndex" json:"-"`
	ConfirmedKey      *string         `gorm:"type:varchar(200);uniqueIndex" json:"-"`
}

// Live reports whether the intent can still be confirmed at now
func (i *PurchaseIntent) Live(now time.Time) bool {
	return i.Status == IntentCreated && now.Before(i.ExpiresAt)
}

// PurchaseRecord is the append-only fact of a completed sale. The unique
// index on (lead_id, job_role) arbitrates concurrent settlements.
type PurchaseRecord struct {
	Base
	LeadID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_purchase_records_lead_role" json:"lead_id"`
	JobRole          JobRole         `gorm:"type:varchar(50);not null;uniqueIndex:idx_purchase_records_lead_role" json:"job_role"`
	ProviderID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"provider_id"`
	AffiliateID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"affiliate_id"`
	PaymentReference string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"payment_reference"`
	AcquisitionCost  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"acquisition_cost"`
	AffiliatePrice   decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"affiliate_price"`
	IntentID         *uuid.UUID      `gorm:"type:uuid" json:"intent_id,omitempty"`
	PurchasedAt      time.Time       `gorm:"not null;index" json:"purchased_at"`
}

// PurchaseReversal archives a purchase undone by an administrator
type PurchaseReversal struct {
	Base
	PurchaseRecordID uuid.UUID       `gorm:"type:uuid;not null;index" json:"purchase_record_id"`
	LeadID           uuid.UUID       `gorm:"type:uuid;not null;index" json:"lead_id"`
	JobRole          JobRole         `gorm:"type:varchar(50);not null" json:"job_role"`
	ProviderID       uuid.UUID       `gorm:"type:uuid;not null" json:"provider_id"`
	PaymentReference string          `gorm:"type:varchar(255);not null" json:"payment_reference"`
	AcquisitionCost  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"acquisition_cost"`
	PurchasedAt      time.Time       `gorm:"not null" json:"purchased_at"`
	Reason           string          `gorm:"type:text;not null" json:"reason"`
	ReversedBy       uuid.UUID       `gorm:"type:uuid;not null" json:"reversed_by"`
	ReversedAt       time.Time       `gorm:"not null" json:"reversed_at"`
}

// ConflictReason explains why a confirmed payment could not be applied
type ConflictReason string

const (
	ConflictLostRace      ConflictReason = "lost_race"
	ConflictRoleDisabled  ConflictReason = "role_unavailable"
	ConflictNotEligible   ConflictReason = "not_eligible"
	ConflictLeadNotActive ConflictReason = "lead_not_active"
	// the sale stands but the amount paid differs from the role price
	ConflictAmountMismatch ConflictReason = "amount_mismatch"
)

// SettlementConflict is a confirmed payment that needs manual refund or
// review
type SettlementConflict struct {
	Base
	LeadID                  uuid.UUID       `gorm:"type:uuid;not null;index" json:"lead_id"`
	JobRole                 JobRole         `gorm:"type:varchar(50);not null" json:"job_role"`
	ProviderID              uuid.UUID       `gorm:"type:uuid;not null" json:"provider_id"`
	PaymentReference        string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"payment_reference"`
	AmountPaid              decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount_paid"`
	WinningProviderID       *uuid.UUID      `gorm:"type:uuid" json:"winning_provider_id,omitempty"`
	WinningPaymentReference *string         `gorm:"type:varchar(255)" json:"winning_payment_reference,omitempty"`
	Reason                  ConflictReason  `gorm:"type:varchar(50);not null" json:"reason"`
	Detail                  string          `gorm:"type:text" json:"detail,omitempty"`
	Resolved                bool            `gorm:"not null;index" json:"resolved"`
	ResolvedAt              *time.Time      `json:"resolved_at,omitempty"`
}
