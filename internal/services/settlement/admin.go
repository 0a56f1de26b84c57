package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/ledger"
	"github.com/leadbridge/backend/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrPayoutInFlight means a payout batch currently holds the sale's payout
	ErrPayoutInFlight   = errors.New("payout transfer in progress")
	ErrConflictNotFound = errors.New("settlement conflict not found")
)

// ReverseSale undoes the purchase of role on a lead. It archives the
// purchase record, drops its unpaid payout and reopens the slot. Refunding
// the provider happens outside this service.
func (s *SettlementService) ReverseSale(ctx context.Context, leadID uuid.UUID, role models.JobRole, actorID uuid.UUID, reason string) (*models.PurchaseReversal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, models.InvalidInput("a reason is required")
	}
	if !role.Valid() {
		return nil, models.InvalidInput("unknown job role %q", role)
	}

	var reversal *models.PurchaseReversal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.PurchaseRecord
		err := tx.Where("lead_id = ? AND job_role = ?", leadID, role).First(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrPurchaseNotFound
		}
		if err != nil {
			return fmt.Errorf("error finding purchase record: %w", err)
		}
		now := s.now()

		var p models.Payout
		err = tx.Where("purchase_record_id = ?", record.ID).First(&p).Error
		switch {
		case err == nil:
			if p.Status == models.PayoutPaid {
				return models.ErrPayoutAlreadyPaid
			}
			if p.ClaimedUntil != nil && p.ClaimedUntil.After(now) {
				return ErrPayoutInFlight
			}
			res := tx.Where("id = ? AND status = ?", p.ID, models.PayoutPending).Delete(&models.Payout{})
			if res.Error != nil {
				return fmt.Errorf("error deleting payout: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return models.ErrPayoutAlreadyPaid
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("error finding payout: %w", err)
		}

		reversal = &models.PurchaseReversal{
			PurchaseRecordID: record.ID,
			LeadID:           record.LeadID,
			JobRole:          record.JobRole,
			ProviderID:       record.ProviderID,
			PaymentReference: record.PaymentReference,
			AcquisitionCost:  record.AcquisitionCost,
			PurchasedAt:      record.PurchasedAt,
			Reason:           reason,
			ReversedBy:       actorID,
			ReversedAt:       now,
		}
		if err := tx.Create(reversal).Error; err != nil {
			return fmt.Errorf("error archiving purchase record: %w", err)
		}
		if err := tx.Delete(&record).Error; err != nil {
			return fmt.Errorf("error deleting purchase record: %w", err)
		}

		if err := ledger.AdminReopen(tx, leadID, role); err != nil {
			return err
		}

		// the slot can be confirmed again by a future sale
		if err := tx.Model(&models.PurchaseIntent{}).
			Where("confirmed_key = ?", models.SlotKey(leadID, role)).
			Update("confirmed_key", nil).Error; err != nil {
			return fmt.Errorf("error releasing confirmed intent: %w", err)
		}

		_, err = RecomputeLeadStatus(tx, leadID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Printf("sale reversed lead=%s role=%s provider=%s ref=%s by=%s reason=%q",
		leadID, role, reversal.ProviderID, reversal.PaymentReference, actorID, reason)
	return reversal, nil
}

// ListConflicts returns settlement conflicts, newest first
func (s *SettlementService) ListConflicts(ctx context.Context, includeResolved bool, limit int) ([]models.SettlementConflict, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if !includeResolved {
		q = q.Where("resolved = ?", false)
	}
	var conflicts []models.SettlementConflict
	if err := q.Find(&conflicts).Error; err != nil {
		return nil, fmt.Errorf("error listing settlement conflicts: %w", err)
	}
	return conflicts, nil
}

// ResolveConflict marks a conflict as handled, typically after a refund
func (s *SettlementService) ResolveConflict(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.SettlementConflict{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{"resolved": true, "resolved_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("error resolving settlement conflict: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflictNotFound
	}
	return nil
}
