// Package directory reads providers and affiliates maintained by the account system
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/models"
	"gorm.io/gorm"
)

var (
	ErrProviderNotFound  = errors.New("provider not found")
	ErrAffiliateNotFound = errors.New("affiliate not found")
)

// Repository is a GORM backed directory. Use WithTx to read inside a
// settlement transaction.
type Repository struct {
	db *gorm.DB
}

// New creates a directory repository
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// ProvidersInArea returns active providers registered for role that serve
// the given state and county
func (r *Repository) ProvidersInArea(ctx context.Context, role models.JobRole, state, county string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Provider{}).
		Joins("JOIN provider_service_areas ON provider_service_areas.provider_id = providers.id").
		Where("providers.job_role = ? AND providers.active = ?", role, true).
		Where("UPPER(provider_service_areas.state) = ? AND LOWER(provider_service_areas.county) = ?",
			strings.ToUpper(state), strings.ToLower(strings.TrimSpace(county))).
		Distinct().
		Pluck("providers.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("error finding providers in area: %w", err)
	}
	return ids, nil
}

// ActiveForRole narrows ids to active providers registered for role
func (r *Repository) ActiveForRole(ctx context.Context, role models.JobRole, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Provider{}).
		Where("id IN ? AND job_role = ? AND active = ?", ids, role, true).
		Pluck("id", &out).Error
	if err != nil {
		return nil, fmt.Errorf("error filtering providers: %w", err)
	}
	return out, nil
}

// Provider loads one provider
func (r *Repository) Provider(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	var p models.Provider
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error finding provider: %w", err)
	}
	return &p, nil
}

// Affiliate loads one affiliate
func (r *Repository) Affiliate(ctx context.Context, id uuid.UUID) (*models.Affiliate, error) {
	var a models.Affiliate
	err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAffiliateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error finding affiliate: %w", err)
	}
	return &a, nil
}
