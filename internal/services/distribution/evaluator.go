// Package distribution decides which providers may buy a role on a lead
package distribution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/models"
)

// ProviderDirectory is the provider lookup the evaluator needs
type ProviderDirectory interface {
	ProvidersInArea(ctx context.Context, role models.JobRole, state, county string) ([]uuid.UUID, error)
	ActiveForRole(ctx context.Context, role models.JobRole, ids []uuid.UUID) ([]uuid.UUID, error)
}

// Evaluator applies a lead's distribution policy. It never writes.
type Evaluator struct {
	dir ProviderDirectory
	now func() time.Time
}

// NewEvaluator creates an evaluator over dir
func NewEvaluator(dir ProviderDirectory) *Evaluator {
	return &Evaluator{dir: dir, now: func() time.Time { return time.Now().UTC() }}
}

// CheckRole verifies the role can still be bought. The lead must carry its
// slots.
func CheckRole(lead *models.Lead, role models.JobRole, now time.Time) (*models.RoleSlot, error) {
	if !lead.Open(now) {
		return nil, models.ErrRoleUnavailable
	}
	slot, ok := lead.Slot(role)
	if !ok || !slot.Enabled {
		return nil, models.ErrRoleUnavailable
	}
	switch slot.State {
	case models.SlotSold:
		return nil, models.ErrRoleUnavailable
	case models.SlotReserved:
		return nil, models.ErrRoleAlreadyReserved
	}
	return slot, nil
}

// EligibleProviders returns the providers allowed to buy role on lead. The
// lead must carry its slots and curated providers.
func (e *Evaluator) EligibleProviders(ctx context.Context, lead *models.Lead, role models.JobRole) (map[uuid.UUID]struct{}, error) {
	if _, err := CheckRole(lead, role, e.now()); err != nil {
		return nil, err
	}

	var (
		ids []uuid.UUID
		err error
	)
	switch lead.DistributionMethod {
	case models.DistributionCurated:
		// a curated provider still has to be registered for the role
		ids, err = e.dir.ActiveForRole(ctx, role, lead.CuratedFor(role))
	default:
		ids, err = e.dir.ProvidersInArea(ctx, role, lead.State, lead.County)
	}
	if err != nil {
		return nil, err
	}

	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// CheckProvider returns ErrNotEligible when providerID is outside the
// eligible set, or the role error from CheckRole
func (e *Evaluator) CheckProvider(ctx context.Context, lead *models.Lead, role models.JobRole, providerID uuid.UUID) error {
	set, err := e.EligibleProviders(ctx, lead, role)
	if err != nil {
		return err
	}
	if _, ok := set[providerID]; !ok {
		return models.ErrNotEligible
	}
	return nil
}
