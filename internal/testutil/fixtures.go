package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// RoleFixture configures one slot of a fixture lead
type RoleFixture struct {
	Role           models.JobRole
	Enabled        bool
	Price          string
	AffiliatePrice string
	Curated        []uuid.UUID
}

// CreateAffiliate inserts an affiliate with a payout account
func CreateAffiliate(t *testing.T, db *gorm.DB) *models.Affiliate {
	t.Helper()
	account := "acct_" + uuid.NewString()[:8]
	a := &models.Affiliate{Name: "Acme Leads", Email: "payouts@acme.test", PayoutAccountID: &account}
	require.NoError(t, db.Create(a).Error)
	return a
}

// CreateProvider inserts an active provider serving one county
func CreateProvider(t *testing.T, db *gorm.DB, role models.JobRole, state, county string) *models.Provider {
	t.Helper()
	p := &models.Provider{
		Name:    "Provider " + uuid.NewString()[:6],
		Email:   uuid.NewString()[:6] + "@provider.test",
		JobRole: role,
		Active:  true,
		ServiceAreas: []models.ProviderServiceArea{
			{State: state, County: county},
		},
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// CreateLead inserts a pending lead in TX/Travis with the given roles
func CreateLead(t *testing.T, db *gorm.DB, affiliateID uuid.UUID, method models.DistributionMethod, roles ...RoleFixture) *models.Lead {
	t.Helper()
	lead := &models.Lead{
		AffiliateID:        affiliateID,
		FirstName:          "Dana",
		LastName:           "Smith",
		Email:              "dana@example.test",
		Phone:              "555-0100",
		State:              "TX",
		County:             "Travis",
		ZipCode:            "78701",
		DistributionMethod: method,
		Status:             models.LeadStatusPending,
		ExpiresAt:          time.Now().UTC().Add(30 * 24 * time.Hour),
	}
	for _, r := range roles {
		lead.Slots = append(lead.Slots, models.RoleSlot{
			JobRole:        r.Role,
			Enabled:        r.Enabled,
			Price:          decimal.RequireFromString(orZero(r.Price)),
			AffiliatePrice: decimal.RequireFromString(orZero(r.AffiliatePrice)),
			State:          models.SlotUnsold,
		})
		for _, id := range r.Curated {
			lead.CuratedProviders = append(lead.CuratedProviders, models.RoleCuratedProvider{JobRole: r.Role, ProviderID: id})
		}
	}
	require.NoError(t, db.Create(lead).Error)
	return lead
}

// Slot reloads one slot of a lead
func Slot(t *testing.T, db *gorm.DB, leadID uuid.UUID, role models.JobRole) models.RoleSlot {
	t.Helper()
	var slot models.RoleSlot
	require.NoError(t, db.Where("lead_id = ? AND job_role = ?", leadID, role).First(&slot).Error)
	return slot
}

// Lead reloads a lead without associations
func Lead(t *testing.T, db *gorm.DB, id uuid.UUID) models.Lead {
	t.Helper()
	var lead models.Lead
	require.NoError(t, db.First(&lead, "id = ?", id).Error)
	return lead
}

// Count returns the number of rows of model matching the optional condition
func Count(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// CreatePurchase writes a sold slot and its purchase record directly
func CreatePurchase(t *testing.T, db *gorm.DB, lead *models.Lead, role models.JobRole, providerID uuid.UUID, ref string, purchasedAt time.Time) *models.PurchaseRecord {
	t.Helper()
	slot := Slot(t, db, lead.ID, role)
	require.NoError(t, db.Model(&slot).Updates(map[string]interface{}{
		"state":            models.SlotSold,
		"provider_id":      providerID,
		"acquisition_cost": slot.Price,
		"affiliate_amount": slot.AffiliatePrice,
		"sold_at":          purchasedAt,
	}).Error)
	record := &models.PurchaseRecord{
		LeadID:           lead.ID,
		JobRole:          role,
		ProviderID:       providerID,
		AffiliateID:      lead.AffiliateID,
		PaymentReference: ref,
		AcquisitionCost:  slot.Price,
		AffiliatePrice:   slot.AffiliatePrice,
		PurchasedAt:      purchasedAt,
	}
	require.NoError(t, db.Create(record).Error)
	return record
}

// SetLeadStatus overwrites a lead's status
func SetLeadStatus(t *testing.T, db *gorm.DB, id uuid.UUID, status models.LeadStatus) {
	t.Helper()
	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", id).Update("status", status).Error)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
