package models

import "github.com/google/uuid"

// Provider is a buyer registered for exactly one job role. Rows are owned by
// the account system; this service only reads them.
type Provider struct {
	Base
	Name         string                `gorm:"type:varchar(255);not null" json:"name"`
	Email        string                `gorm:"type:varchar(255);not null" json:"email"`
	JobRole      JobRole               `gorm:"type:varchar(50);not null;index" json:"job_role"`
	Active       bool                  `gorm:"not null;index" json:"active"`
	ServiceAreas []ProviderServiceArea `gorm:"foreignKey:ProviderID" json:"service_areas,omitempty"`
}

// ProviderServiceArea is one (state, county) a provider covers
type ProviderServiceArea struct {
	Base
	ProviderID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_service_area" json:"provider_id"`
	State      string    `gorm:"type:varchar(2);not null;uniqueIndex:idx_service_area;index:idx_service_area_geo" json:"state"`
	County     string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_service_area;index:idx_service_area_geo" json:"county"`
}

// Affiliate submits leads and receives payouts
type Affiliate struct {
	Base
	Name            string  `gorm:"type:varchar(255);not null" json:"name"`
	Email           string  `gorm:"type:varchar(255);not null" json:"email"`
	PayoutAccountID *string `gorm:"type:varchar(255)" json:"payout_account_id,omitempty"`
}
