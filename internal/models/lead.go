package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JobRole is a provider specialty and the unit of independent sale on a lead
type JobRole string

const (
	JobRoleRealEstateAgent JobRole = "real_estate_agent"
	JobRoleLoanOriginator  JobRole = "loan_originator"
	JobRoleTitleAgent      JobRole = "title_agent"
)

// JobRoles lists every sellable role, in display order
var JobRoles = []JobRole{
	JobRoleRealEstateAgent,
	JobRoleLoanOriginator,
	JobRoleTitleAgent,
}

// ParseJobRole accepts only the closed set of roles
func ParseJobRole(s string) (JobRole, error) {
	role := JobRole(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", InvalidInput("unknown job role %q", s)
	}
	return role, nil
}

// Valid reports whether r is one of JobRoles
func (r JobRole) Valid() bool {
	for _, known := range JobRoles {
		if r == known {
			return true
		}
	}
	return false
}

// DistributionMethod controls which providers may buy a lead's roles
type DistributionMethod string

const (
	DistributionOpen    DistributionMethod = "open"
	DistributionCurated DistributionMethod = "curated"
)

// ParseDistributionMethod is strict like ParseJobRole
func ParseDistributionMethod(s string) (DistributionMethod, error) {
	switch m := DistributionMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case DistributionOpen, DistributionCurated:
		return m, nil
	default:
		return "", InvalidInput("unknown distribution method %q", s)
	}
}

// LeadStatus is derived from the role slots by the settlement processor
type LeadStatus string

const (
	LeadStatusPending LeadStatus = "pending"
	LeadStatusSold    LeadStatus = "sold"
	LeadStatusExpired LeadStatus = "expired"
)

// Lead is a consumer contact record submitted by an affiliate
type Lead struct {
	Base
	AffiliateID        uuid.UUID          `gorm:"type:uuid;not null;index" json:"affiliate_id"`
	FirstName          string             `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName           string             `gorm:"type:varchar(100);not null" json:"last_name"`
	Email              string             `gorm:"type:varchar(255)" json:"email"`
	Phone              string             `gorm:"type:varchar(50)" json:"phone"`
	State              string             `gorm:"type:varchar(2);not null;index:idx_leads_geo" json:"state"`
	County             string             `gorm:"type:varchar(100);not null;index:idx_leads_geo" json:"county"`
	ZipCode            string             `gorm:"type:varchar(10)" json:"zip_code"`
	DistributionMethod DistributionMethod `gorm:"type:varchar(20);not null" json:"distribution_method"`
	Status             LeadStatus         `gorm:"type:varchar(20);not null;index" json:"status"`
	ExpiresAt          time.Time          `gorm:"not null;index" json:"expires_at"`
	SoldAt             *time.Time         `json:"sold_at,omitempty"`

	Slots            []RoleSlot            `gorm:"foreignKey:LeadID" json:"roles,omitempty"`
	CuratedProviders []RoleCuratedProvider `gorm:"foreignKey:LeadID" json:"curated_providers,omitempty"`
}

// Slot returns the configured slot for role, if any
func (l *Lead) Slot(role JobRole) (*RoleSlot, bool) {
	for i := range l.Slots {
		if l.Slots[i].JobRole == role {
			return &l.Slots[i], true
		}
	}
	return nil, false
}

// CuratedFor returns the allow-list for role
func (l *Lead) CuratedFor(role JobRole) []uuid.UUID {
	var ids []uuid.UUID
	for _, c := range l.CuratedProviders {
		if c.JobRole == role {
			ids = append(ids, c.ProviderID)
		}
	}
	return ids
}

// Open reports whether the lead still accepts purchases
func (l *Lead) Open(now time.Time) bool {
	return l.Status == LeadStatusPending && now.Before(l.ExpiresAt)
}

// SlotState is the sale state of one role on one lead
type SlotState string

const (
	SlotUnsold   SlotState = "unsold"
	SlotReserved SlotState = "reserved"
	SlotSold     SlotState = "sold"
)

// RoleSlot is one row of the role ledger, unique per (lead, role).
// Enabled, Price and AffiliatePrice are affiliate configuration. The
// remaining columns belong to the ledger package.
type RoleSlot struct {
	Base
	LeadID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_role_slots_lead_role" json:"lead_id"`
	JobRole        JobRole         `gorm:"type:varchar(50);not null;uniqueIndex:idx_role_slots_lead_role" json:"job_role"`
	Enabled        bool            `gorm:"not null" json:"enabled"`
	Price          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	AffiliatePrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"affiliate_price"`

	State           SlotState           `gorm:"type:varchar(20);not null;index" json:"state"`
	ProviderID      *uuid.UUID          `gorm:"type:uuid" json:"provider_id,omitempty"`
	AcquisitionCost decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"acquisition_cost,omitempty"`
	AffiliateAmount decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"affiliate_amount,omitempty"`
	ReservedAt      *time.Time          `json:"reserved_at,omitempty"`
	SoldAt          *time.Time          `json:"sold_at,omitempty"`
}

// Key identifies the slot in logs and guard columns
func (s *RoleSlot) Key() string {
	return SlotKey(s.LeadID, s.JobRole)
}

// SlotKey formats the (lead, role) pair
func SlotKey(leadID uuid.UUID, role JobRole) string {
	return fmt.Sprintf("%s:%s", leadID, role)
}

// RoleCuratedProvider is one entry of a role's curated allow-list
type RoleCuratedProvider struct {
	Base
	LeadID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_curated_lead_role_provider" json:"lead_id"`
	JobRole    JobRole   `gorm:"type:varchar(50);not null;uniqueIndex:idx_curated_lead_role_provider" json:"job_role"`
	ProviderID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_curated_lead_role_provider" json:"provider_id"`
}
