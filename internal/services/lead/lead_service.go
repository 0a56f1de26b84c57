// Package lead handles lead submission and affiliate configuration
package lead

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/ledger"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/settlement"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RoleConfig is the affiliate's configuration of one role
type RoleConfig struct {
	JobRole          string          `json:"job_role" binding:"required"`
	Enabled          bool            `json:"enabled"`
	Price            decimal.Decimal `json:"price"`
	AffiliatePrice   decimal.Decimal `json:"affiliate_price"`
	CuratedProviders []uuid.UUID     `json:"curated_providers,omitempty"`
}

// SubmitInput is a new lead
type SubmitInput struct {
	FirstName          string       `json:"first_name" binding:"required"`
	LastName           string       `json:"last_name" binding:"required"`
	Email              string       `json:"email" binding:"required"`
	Phone              string       `json:"phone"`
	State              string       `json:"state" binding:"required"`
	County             string       `json:"county" binding:"required"`
	ZipCode            string       `json:"zip_code"`
	DistributionMethod string       `json:"distribution_method"`
	Roles              []RoleConfig `json:"roles" binding:"required"`
}

// RoleUpdate changes the provided fields of one role
type RoleUpdate struct {
	JobRole          string           `json:"job_role" binding:"required"`
	Enabled          *bool            `json:"enabled,omitempty"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	AffiliatePrice   *decimal.Decimal `json:"affiliate_price,omitempty"`
	CuratedProviders *[]uuid.UUID     `json:"curated_providers,omitempty"`
}

// ConfigurationUpdate changes a lead's distribution settings
type ConfigurationUpdate struct {
	DistributionMethod *string      `json:"distribution_method,omitempty"`
	Roles              []RoleUpdate `json:"roles"`
}

// LeadService manages leads on behalf of affiliates
type LeadService struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewLeadService creates a new lead service. Leads expire ttl after submission.
func NewLeadService(db *gorm.DB, ttl time.Duration) *LeadService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &LeadService{db: db, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// SubmitLead validates and stores a lead with its role slots
func (s *LeadService) SubmitLead(ctx context.Context, affiliateID uuid.UUID, in SubmitInput) (*models.Lead, error) {
	method := models.DistributionOpen
	if in.DistributionMethod != "" {
		m, err := models.ParseDistributionMethod(in.DistributionMethod)
		if err != nil {
			return nil, models.InvalidInput("unknown distribution method %q", in.DistributionMethod)
		}
		method = m
	}

	state := strings.ToUpper(strings.TrimSpace(in.State))
	switch {
	case strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "":
		return nil, models.InvalidInput("first and last name are required")
	case len(state) != 2:
		return nil, models.InvalidInput("state must be a two letter code")
	case strings.TrimSpace(in.County) == "":
		return nil, models.InvalidInput("county is required")
	case len(in.Roles) == 0:
		return nil, models.InvalidInput("at least one role is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, models.InvalidInput("invalid email %q", in.Email)
	}

	now := s.now()
	lead := &models.Lead{
		AffiliateID:        affiliateID,
		FirstName:          strings.TrimSpace(in.FirstName),
		LastName:           strings.TrimSpace(in.LastName),
		Email:              strings.TrimSpace(in.Email),
		Phone:              strings.TrimSpace(in.Phone),
		State:              state,
		County:             strings.TrimSpace(in.County),
		ZipCode:            strings.TrimSpace(in.ZipCode),
		DistributionMethod: method,
		Status:             models.LeadStatusPending,
		ExpiresAt:          now.Add(s.ttl),
	}

	seen := make(map[models.JobRole]bool)
	for _, rc := range in.Roles {
		role, err := models.ParseJobRole(rc.JobRole)
		if err != nil {
			return nil, models.InvalidInput("unknown job role %q", rc.JobRole)
		}
		if seen[role] {
			return nil, models.InvalidInput("role %s configured twice", role)
		}
		seen[role] = true
		if err := validatePrices(role, rc.Price, rc.AffiliatePrice); err != nil {
			return nil, err
		}
		if method == models.DistributionCurated && rc.Enabled && len(rc.CuratedProviders) == 0 {
			return nil, models.InvalidInput("curated role %s needs at least one provider", role)
		}
		lead.Slots = append(lead.Slots, models.RoleSlot{
			JobRole:        role,
			Enabled:        rc.Enabled,
			Price:          rc.Price,
			AffiliatePrice: rc.AffiliatePrice,
			State:          models.SlotUnsold,
		})
		for _, id := range dedupe(rc.CuratedProviders) {
			lead.CuratedProviders = append(lead.CuratedProviders, models.RoleCuratedProvider{JobRole: role, ProviderID: id})
		}
	}

	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return nil, fmt.Errorf("error creating lead: %w", err)
	}
	return lead, nil
}

// GetLead loads a lead with its slots
func (s *LeadService) GetLead(ctx context.Context, id uuid.UUID) (*models.Lead, error) {
	return ledger.LoadLead(s.db.WithContext(ctx), id)
}

// UpdateConfiguration applies an affiliate's changes to an open lead. Roles
// that already sold keep their enabled flag and prices.
func (s *LeadService) UpdateConfiguration(ctx context.Context, affiliateID, leadID uuid.UUID, upd ConfigurationUpdate) (*models.Lead, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lead, err := ledger.LoadLead(tx, leadID)
		if err != nil {
			return err
		}
		if lead.AffiliateID != affiliateID {
			return models.ErrForbidden
		}
		now := s.now()
		if !lead.Open(now) {
			return models.ErrLeadClosed
		}

		method := lead.DistributionMethod
		if upd.DistributionMethod != nil {
			m, err := models.ParseDistributionMethod(*upd.DistributionMethod)
			if err != nil {
				return models.InvalidInput("unknown distribution method %q", *upd.DistributionMethod)
			}
			method = m
			res := tx.Model(&models.Lead{}).
				Where("id = ? AND status = ?", leadID, models.LeadStatusPending).
				Update("distribution_method", method)
			if res.Error != nil {
				return fmt.Errorf("error updating distribution method: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return models.ErrLeadClosed
			}
		}

		for _, ru := range upd.Roles {
			if err := s.applyRole(tx, lead, ru); err != nil {
				return err
			}
		}

		// the final configuration must still be sellable
		lead, err = ledger.LoadLead(tx, leadID)
		if err != nil {
			return err
		}
		if method == models.DistributionCurated {
			for _, slot := range lead.Slots {
				if slot.Enabled && slot.State == models.SlotUnsold && len(lead.CuratedFor(slot.JobRole)) == 0 {
					return models.InvalidInput("curated role %s needs at least one provider", slot.JobRole)
				}
			}
		}

		// disabling the last unsold role completes the lead
		_, err = settlement.RecomputeLeadStatus(tx, leadID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetLead(ctx, leadID)
}

func (s *LeadService) applyRole(tx *gorm.DB, lead *models.Lead, ru RoleUpdate) error {
	role, err := models.ParseJobRole(ru.JobRole)
	if err != nil {
		return models.InvalidInput("unknown job role %q", ru.JobRole)
	}

	slot, ok := lead.Slot(role)
	if !ok {
		// a role not configured at submission
		created := models.RoleSlot{LeadID: lead.ID, JobRole: role, State: models.SlotUnsold}
		if ru.Enabled != nil {
			created.Enabled = *ru.Enabled
		}
		if ru.Price != nil {
			created.Price = *ru.Price
		}
		if ru.AffiliatePrice != nil {
			created.AffiliatePrice = *ru.AffiliatePrice
		}
		if err := validatePrices(role, created.Price, created.AffiliatePrice); err != nil {
			return err
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("error adding role: %w", err)
		}
		return replaceCurated(tx, lead.ID, role, ru.CuratedProviders)
	}

	enabled, price, affiliatePrice := slot.Enabled, slot.Price, slot.AffiliatePrice
	if ru.Enabled != nil {
		enabled = *ru.Enabled
	}
	if ru.Price != nil {
		price = *ru.Price
	}
	if ru.AffiliatePrice != nil {
		affiliatePrice = *ru.AffiliatePrice
	}
	changed := enabled != slot.Enabled || !price.Equal(slot.Price) || !affiliatePrice.Equal(slot.AffiliatePrice)

	if changed {
		var purchases int64
		if err := tx.Model(&models.PurchaseRecord{}).Where("lead_id = ? AND job_role = ?", lead.ID, role).Count(&purchases).Error; err != nil {
			return fmt.Errorf("error checking purchases: %w", err)
		}
		if purchases > 0 || slot.State != models.SlotUnsold {
			return models.ErrRoleAlreadySold
		}
		if err := validatePrices(role, price, affiliatePrice); err != nil {
			return err
		}

		res := tx.Model(&models.RoleSlot{}).
			Where("id = ? AND state = ?", slot.ID, models.SlotUnsold).
			Updates(map[string]interface{}{
				"enabled":         enabled,
				"price":           price,
				"affiliate_price": affiliatePrice,
			})
		if res.Error != nil {
			return fmt.Errorf("error updating role %s: %w", role, res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrRoleAlreadySold
		}
	}

	return replaceCurated(tx, lead.ID, role, ru.CuratedProviders)
}

func replaceCurated(tx *gorm.DB, leadID uuid.UUID, role models.JobRole, ids *[]uuid.UUID) error {
	if ids == nil {
		return nil
	}
	if err := tx.Where("lead_id = ? AND job_role = ?", leadID, role).Delete(&models.RoleCuratedProvider{}).Error; err != nil {
		return fmt.Errorf("error clearing curated providers: %w", err)
	}
	for _, id := range dedupe(*ids) {
		row := models.RoleCuratedProvider{LeadID: leadID, JobRole: role, ProviderID: id}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("error adding curated provider: %w", err)
		}
	}
	return nil
}

func validatePrices(role models.JobRole, price, affiliatePrice decimal.Decimal) error {
	switch {
	case price.IsNegative() || affiliatePrice.IsNegative():
		return models.InvalidInput("%s prices must not be negative", role)
	case !price.Equal(price.Round(2)) || !affiliatePrice.Equal(affiliatePrice.Round(2)):
		return models.InvalidInput("%s prices allow at most two decimals", role)
	case affiliatePrice.GreaterThan(price):
		return models.InvalidInput("%s affiliate price exceeds price", role)
	}
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
