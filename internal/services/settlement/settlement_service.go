// Package settlement applies confirmed payments to the role ledger
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/database"
	"github.com/leadbridge/backend/internal/directory"
	"github.com/leadbridge/backend/internal/ledger"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/distribution"
	"github.com/leadbridge/backend/internal/services/intent"
	"github.com/leadbridge/backend/internal/services/payment"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errLostRace marks a settlement that found the slot taken by a concurrent commit
var errLostRace = errors.New("settlement lost race")

// ConfirmedPayment is a validated payment for one role on one lead
type ConfirmedPayment struct {
	LeadID           uuid.UUID
	JobRole          models.JobRole
	ProviderID       uuid.UUID
	PaymentReference string
	AmountPaid       decimal.Decimal
	SessionID        string
}

// FromPaymentEvent validates a normalized gateway event
func FromPaymentEvent(ev *payment.PaymentEvent) (ConfirmedPayment, error) {
	var p ConfirmedPayment
	if ev == nil || !ev.Confirmed() {
		return p, fmt.Errorf("%w: not a confirmed payment", models.ErrInvalidEvent)
	}
	leadID, err := uuid.Parse(ev.LeadID)
	if err != nil {
		return p, fmt.Errorf("%w: lead_id %q", models.ErrInvalidEvent, ev.LeadID)
	}
	role, err := models.ParseJobRole(ev.JobRole)
	if err != nil {
		return p, fmt.Errorf("%w: job_role %q", models.ErrInvalidEvent, ev.JobRole)
	}
	providerID, err := uuid.Parse(ev.ProviderID)
	if err != nil {
		return p, fmt.Errorf("%w: provider_id %q", models.ErrInvalidEvent, ev.ProviderID)
	}
	p = ConfirmedPayment{
		LeadID:           leadID,
		JobRole:          role,
		ProviderID:       providerID,
		PaymentReference: strings.TrimSpace(ev.PaymentReference),
		AmountPaid:       ev.AmountPaid,
		SessionID:        ev.SessionID,
	}
	return p, p.validate()
}

func (p ConfirmedPayment) validate() error {
	switch {
	case p.LeadID == uuid.Nil:
		return fmt.Errorf("%w: missing lead_id", models.ErrInvalidEvent)
	case !p.JobRole.Valid():
		return fmt.Errorf("%w: job_role %q", models.ErrInvalidEvent, p.JobRole)
	case p.ProviderID == uuid.Nil:
		return fmt.Errorf("%w: missing provider_id", models.ErrInvalidEvent)
	case p.PaymentReference == "":
		return fmt.Errorf("%w: missing payment_reference", models.ErrInvalidEvent)
	case p.AmountPaid.IsNegative():
		return fmt.Errorf("%w: negative amount_paid", models.ErrInvalidEvent)
	}
	return nil
}

// Result is the outcome of a successful Settle call
type Result struct {
	// Record is nil for a replay of a reversed sale
	Record *models.PurchaseRecord
	// Duplicate is set when the payment had already been applied
	Duplicate bool
	// LeadSold is set when this settlement sold the last enabled role
	LeadSold bool
}

// AfterSale runs the post-commit side effects of a new purchase record
type AfterSale interface {
	AfterSale(ctx context.Context, record *models.PurchaseRecord)
}

// SettlementService is the only writer of purchase records and lead status
type SettlementService struct {
	db      *gorm.DB
	dir     *directory.Repository
	effects AfterSale
	now     func() time.Time
}

// NewSettlementService creates a new settlement service. effects may be nil.
func NewSettlementService(db *gorm.DB, effects AfterSale) *SettlementService {
	return &SettlementService{
		db:      db,
		dir:     directory.New(db),
		effects: effects,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Settle applies a confirmed payment. Replays of an applied payment succeed
// with Duplicate set. A payment that cannot be applied is recorded as a
// settlement conflict and returns ErrRoleAlreadyReserved, ErrRoleUnavailable
// or ErrNotEligible.
func (s *SettlementService) Settle(ctx context.Context, p ConfirmedPayment) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var (
		res      Result
		conflict *models.SettlementConflict
		price    decimal.Decimal
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findApplied(tx, p)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.PaymentReference == p.PaymentReference {
				if existing.LeadID != p.LeadID || existing.JobRole != p.JobRole {
					return fmt.Errorf("%w: payment_reference already settled %s", models.ErrInvalidEvent, existing.JobRole)
				}
				res.Record = existing
				res.Duplicate = true
				return nil
			}
			return errLostRace
		}

		var reversed int64
		if err := tx.Model(&models.PurchaseReversal{}).Where("payment_reference = ?", p.PaymentReference).Count(&reversed).Error; err != nil {
			return fmt.Errorf("error checking reversals: %w", err)
		}
		if reversed > 0 {
			// an administrator undid this sale; redeliveries must not resell it
			res.Duplicate = true
			return nil
		}

		lead, err := ledger.LoadLead(tx, p.LeadID)
		if err != nil {
			return err
		}
		now := s.now()

		ev := distribution.NewEvaluator(s.dir.WithTx(tx))
		if err := ev.CheckProvider(ctx, lead, p.JobRole, p.ProviderID); err != nil {
			switch {
			case errors.Is(err, models.ErrRoleAlreadyReserved):
				return errLostRace
			case errors.Is(err, models.ErrRoleUnavailable):
				reason := models.ConflictRoleDisabled
				if !lead.Open(now) {
					reason = models.ConflictLeadNotActive
				}
				conflict = newConflict(p, reason, err.Error())
				return err
			case errors.Is(err, models.ErrNotEligible):
				conflict = newConflict(p, models.ConflictNotEligible, err.Error())
				return err
			}
			return err
		}
		slot, _ := lead.Slot(p.JobRole)
		price = slot.Price

		if err := ledger.Reserve(tx, p.LeadID, p.JobRole, p.ProviderID, now); err != nil {
			if errors.Is(err, models.ErrRoleAlreadyReserved) {
				return errLostRace
			}
			if errors.Is(err, models.ErrRoleUnavailable) {
				conflict = newConflict(p, models.ConflictRoleDisabled, err.Error())
			}
			return err
		}

		record := &models.PurchaseRecord{
			LeadID:           p.LeadID,
			JobRole:          p.JobRole,
			ProviderID:       p.ProviderID,
			AffiliateID:      lead.AffiliateID,
			PaymentReference: p.PaymentReference,
			AcquisitionCost:  p.AmountPaid,
			AffiliatePrice:   slot.AffiliatePrice,
			PurchasedAt:      now,
		}
		if err := tx.Create(record).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return errLostRace
			}
			return fmt.Errorf("error creating purchase record: %w", err)
		}

		if err := ledger.MarkSold(tx, p.LeadID, p.JobRole, p.ProviderID, p.AmountPaid, slot.AffiliatePrice, now); err != nil {
			return err
		}

		intentID, err := intent.ConfirmForSettlement(tx, p.LeadID, p.JobRole, p.ProviderID, p.SessionID, p.PaymentReference, now)
		if err != nil {
			return err
		}
		if intentID != nil {
			record.IntentID = intentID
			if err := tx.Model(record).Update("intent_id", *intentID).Error; err != nil {
				return fmt.Errorf("error linking intent: %w", err)
			}
		}

		sold, err := RecomputeLeadStatus(tx, p.LeadID, now)
		if err != nil {
			return err
		}
		res.Record = record
		res.LeadSold = sold
		return nil
	})

	if errors.Is(err, errLostRace) {
		return s.classifyRace(ctx, p)
	}
	if conflict != nil {
		s.recordConflict(ctx, conflict)
	}
	if err != nil {
		return nil, err
	}

	if res.Duplicate {
		log.Printf("duplicate settlement lead=%s role=%s provider=%s ref=%s", p.LeadID, p.JobRole, p.ProviderID, p.PaymentReference)
		return &res, nil
	}

	log.Printf("settled lead=%s role=%s provider=%s ref=%s amount=%s lead_sold=%t",
		p.LeadID, p.JobRole, p.ProviderID, p.PaymentReference, p.AmountPaid, res.LeadSold)
	if !p.AmountPaid.Equal(price) {
		s.flagAmountMismatch(ctx, p, price)
	}
	if s.effects != nil {
		s.effects.AfterSale(ctx, res.Record)
	}
	return &res, nil
}

// findApplied returns the record already holding this payment or this slot
func findApplied(tx *gorm.DB, p ConfirmedPayment) (*models.PurchaseRecord, error) {
	var record models.PurchaseRecord
	err := tx.Where("payment_reference = ?", p.PaymentReference).
		Or("lead_id = ? AND job_role = ?", p.LeadID, p.JobRole).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN payment_reference = ? THEN 0 ELSE 1 END",
			Vars:               []interface{}{p.PaymentReference},
			WithoutParentheses: true,
		}}).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error finding purchase record: %w", err)
	}
	return &record, nil
}

// classifyRace re-reads the winning record after the transaction rolled back
func (s *SettlementService) classifyRace(ctx context.Context, p ConfirmedPayment) (*Result, error) {
	winner, err := findApplied(s.db.WithContext(ctx), p)
	if err != nil {
		return nil, err
	}
	if winner != nil && winner.PaymentReference == p.PaymentReference {
		log.Printf("duplicate settlement lead=%s role=%s provider=%s ref=%s", p.LeadID, p.JobRole, p.ProviderID, p.PaymentReference)
		return &Result{Record: winner, Duplicate: true}, nil
	}

	c := newConflict(p, models.ConflictLostRace, "role sold to another provider")
	if winner != nil {
		c.WinningProviderID = &winner.ProviderID
		c.WinningPaymentReference = &winner.PaymentReference
	}
	s.recordConflict(ctx, c)
	return nil, models.ErrRoleAlreadyReserved
}

func newConflict(p ConfirmedPayment, reason models.ConflictReason, detail string) *models.SettlementConflict {
	return &models.SettlementConflict{
		LeadID:           p.LeadID,
		JobRole:          p.JobRole,
		ProviderID:       p.ProviderID,
		PaymentReference: p.PaymentReference,
		AmountPaid:       p.AmountPaid,
		Reason:           reason,
		Detail:           detail,
	}
}

// recordConflict logs the refund case and stores it once per payment
func (s *SettlementService) recordConflict(ctx context.Context, c *models.SettlementConflict) {
	winnerProvider, winnerRef := "-", "-"
	if c.WinningProviderID != nil {
		winnerProvider = c.WinningProviderID.String()
	}
	if c.WinningPaymentReference != nil {
		winnerRef = *c.WinningPaymentReference
	}
	log.Printf("SETTLEMENT CONFLICT reason=%s lead=%s role=%s provider=%s ref=%s amount=%s winner_provider=%s winner_ref=%s: refund required",
		c.Reason, c.LeadID, c.JobRole, c.ProviderID, c.PaymentReference, c.AmountPaid, winnerProvider, winnerRef)

	err := s.db.WithContext(context.WithoutCancel(ctx)).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_reference"}}, DoNothing: true}).
		Create(c).Error
	if err != nil {
		log.Printf("error storing settlement conflict ref=%s: %v", c.PaymentReference, err)
	}
}

// flagAmountMismatch stores a settled payment whose amount differs from
// the role price for review. The sale is not undone.
func (s *SettlementService) flagAmountMismatch(ctx context.Context, p ConfirmedPayment, price decimal.Decimal) {
	detail := fmt.Sprintf("amount paid %s, role price %s", p.AmountPaid.StringFixed(2), price.StringFixed(2))
	log.Printf("SETTLEMENT AMOUNT MISMATCH lead=%s role=%s provider=%s ref=%s: %s",
		p.LeadID, p.JobRole, p.ProviderID, p.PaymentReference, detail)

	c := newConflict(p, models.ConflictAmountMismatch, detail)
	err := s.db.WithContext(context.WithoutCancel(ctx)).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_reference"}}, DoNothing: true}).
		Create(c).Error
	if err != nil {
		log.Printf("error storing amount mismatch ref=%s: %v", p.PaymentReference, err)
	}
}

// RecomputeLeadStatus derives a pending or sold lead's status from its
// slots and reports whether the lead is sold. Expired leads are left alone.
func RecomputeLeadStatus(tx *gorm.DB, leadID uuid.UUID, now time.Time) (bool, error) {
	sold, err := ledger.AllEnabledSold(tx, leadID)
	if err != nil {
		return false, err
	}
	q := tx.Model(&models.Lead{}).Where("id = ?", leadID)
	if sold {
		err = q.Where("status = ?", models.LeadStatusPending).
			Updates(map[string]interface{}{"status": models.LeadStatusSold, "sold_at": now}).Error
	} else {
		err = q.Where("status = ?", models.LeadStatusSold).
			Updates(map[string]interface{}{"status": models.LeadStatusPending, "sold_at": nil}).Error
	}
	if err != nil {
		return false, fmt.Errorf("error updating lead status: %w", err)
	}
	return sold, nil
}

// ExpireStaleLeads expires pending leads past their TTL that sold nothing
func (s *SettlementService) ExpireStaleLeads(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("status = ? AND expires_at <= ?", models.LeadStatusPending, s.now()).
		Where("NOT EXISTS (SELECT 1 FROM purchase_records WHERE purchase_records.lead_id = leads.id)").
		Update("status", models.LeadStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("error expiring leads: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("expired %d stale leads", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
