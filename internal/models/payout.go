package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutStatus only ever moves from pending to paid
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutPaid    PayoutStatus = "paid"
)

// Payout is the amount owed to the affiliate for one purchase record.
// ClaimToken and ClaimedUntil form the lease a batch run holds while it
// transfers funds for the row.
type Payout struct {
	Base
	PurchaseRecordID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"purchase_record_id"`
	LeadID                  uuid.UUID       `gorm:"type:uuid;not null;index" json:"lead_id"`
	AffiliateID             uuid.UUID       `gorm:"type:uuid;not null;index" json:"affiliate_id"`
	Amount                  decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status                  PayoutStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	PaidAt                  *time.Time      `json:"paid_at,omitempty"`
	ExternalPayoutReference *string         `gorm:"type:varchar(255)" json:"external_payout_reference,omitempty"`
	ClaimToken              *string         `gorm:"type:varchar(64)" json:"-"`
	ClaimedUntil            *time.Time      `json:"-"`
	FailureCount            int             `gorm:"not null" json:"failure_count"`
	KeyGeneration           int             `gorm:"not null;default:0" json:"-"`
	LastFailure             string          `gorm:"type:text" json:"last_failure,omitempty"`
	NextAttemptAt           *time.Time      `gorm:"index" json:"next_attempt_at,omitempty"`
}

// PayoutAttemptOutcome records what one transfer attempt did
type PayoutAttemptOutcome string

const (
	PayoutAttemptPaid   PayoutAttemptOutcome = "paid"
	PayoutAttemptFailed PayoutAttemptOutcome = "failed"
)

// PayoutAttempt is the audit trail of transfer attempts
type PayoutAttempt struct {
	Base
	PayoutID          uuid.UUID            `gorm:"type:uuid;not null;index" json:"payout_id"`
	BatchID           string               `gorm:"type:varchar(64);not null;index" json:"batch_id"`
	Amount            decimal.Decimal      `gorm:"type:decimal(12,2);not null" json:"amount"`
	Outcome           PayoutAttemptOutcome `gorm:"type:varchar(20);not null" json:"outcome"`
	ExternalReference *string              `gorm:"type:varchar(255)" json:"external_reference,omitempty"`
	Error             string               `gorm:"type:text" json:"error,omitempty"`
	AttemptedAt       time.Time            `gorm:"not null" json:"attempted_at"`
}
