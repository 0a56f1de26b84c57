// Package ledger owns the sale state columns of role slots. Every write is a
// conditional update so concurrent callers cannot both move the same slot.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrSlotNotSold is returned when reopening a slot that holds no sale
var ErrSlotNotSold = errors.New("role slot is not sold")

// Reserve moves an enabled UNSOLD slot to RESERVED for providerID.
// It fails with ErrRoleAlreadyReserved when someone else occupies the slot
// and ErrRoleUnavailable when the role is missing or disabled.
func Reserve(tx *gorm.DB, leadID uuid.UUID, role models.JobRole, providerID uuid.UUID, now time.Time) error {
	res := tx.Model(&models.RoleSlot{}).
		Where("lead_id = ? AND job_role = ? AND state = ? AND enabled = ?", leadID, role, models.SlotUnsold, true).
		Updates(map[string]interface{}{
			"state":       models.SlotReserved,
			"provider_id": providerID,
			"reserved_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("error reserving role slot: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	slot, err := Get(tx, leadID, role)
	if err != nil {
		return err
	}
	if !slot.Enabled && slot.State == models.SlotUnsold {
		return models.ErrRoleUnavailable
	}
	return models.ErrRoleAlreadyReserved
}

// MarkSold completes a reservation held by providerID
func MarkSold(tx *gorm.DB, leadID uuid.UUID, role models.JobRole, providerID uuid.UUID, cost, affiliateAmount decimal.Decimal, now time.Time) error {
	res := tx.Model(&models.RoleSlot{}).
		Where("lead_id = ? AND job_role = ? AND state = ? AND provider_id = ?", leadID, role, models.SlotReserved, providerID).
		Updates(map[string]interface{}{
			"state":            models.SlotSold,
			"acquisition_cost": cost,
			"affiliate_amount": affiliateAmount,
			"sold_at":          now,
		})
	if res.Error != nil {
		return fmt.Errorf("error marking role slot sold: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return models.ErrRoleAlreadyReserved
	}
	return nil
}

// AdminReopen is the administrative SOLD to UNSOLD override. It is not part
// of the sale path and must only run alongside removal of the purchase record.
func AdminReopen(tx *gorm.DB, leadID uuid.UUID, role models.JobRole) error {
	res := tx.Model(&models.RoleSlot{}).
		Where("lead_id = ? AND job_role = ? AND state = ?", leadID, role, models.SlotSold).
		Updates(map[string]interface{}{
			"state":            models.SlotUnsold,
			"provider_id":      nil,
			"acquisition_cost": nil,
			"affiliate_amount": nil,
			"reserved_at":      nil,
			"sold_at":          nil,
		})
	if res.Error != nil {
		return fmt.Errorf("error reopening role slot: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrSlotNotSold
	}
	return nil
}

// Get loads one slot. A role the lead does not carry is unavailable.
func Get(tx *gorm.DB, leadID uuid.UUID, role models.JobRole) (*models.RoleSlot, error) {
	var slot models.RoleSlot
	err := tx.Where("lead_id = ? AND job_role = ?", leadID, role).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrRoleUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("error loading role slot: %w", err)
	}
	return &slot, nil
}

// AllEnabledSold reports whether the lead has at least one enabled role and
// every enabled role is SOLD
func AllEnabledSold(tx *gorm.DB, leadID uuid.UUID) (bool, error) {
	var counts struct {
		Enabled int64
		Sold    int64
	}
	err := tx.Model(&models.RoleSlot{}).
		Select("COUNT(*) AS enabled, COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0) AS sold", models.SlotSold).
		Where("lead_id = ? AND enabled = ?", leadID, true).
		Scan(&counts).Error
	if err != nil {
		return false, fmt.Errorf("error counting sold roles: %w", err)
	}
	return counts.Enabled > 0 && counts.Enabled == counts.Sold, nil
}

// LoadLead loads a lead with its slots and curated providers
func LoadLead(tx *gorm.DB, leadID uuid.UUID) (*models.Lead, error) {
	var lead models.Lead
	err := tx.Preload("Slots").Preload("CuratedProviders").First(&lead, "id = ?", leadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading lead: %w", err)
	}
	return &lead, nil
}
