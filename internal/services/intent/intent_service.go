// Package intent tracks provider checkout attempts on role slots
package intent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/database"
	"github.com/leadbridge/backend/internal/directory"
	"github.com/leadbridge/backend/internal/ledger"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/services/distribution"
	"github.com/leadbridge/backend/internal/services/payment"
	"gorm.io/gorm"
)

// Config holds the intent rules
type Config struct {
	TTL            time.Duration
	GatewayTimeout time.Duration
	// ConcurrentIntents lets several providers hold live intents on one role
	ConcurrentIntents bool
}

// IntentService creates and expires purchase intents
type IntentService struct {
	db       *gorm.DB
	dir      *directory.Repository
	checkout payment.CheckoutProvider
	cfg      Config
	now      func() time.Time
}

// NewIntentService creates a new intent service
func NewIntentService(db *gorm.DB, checkout payment.CheckoutProvider, cfg Config) *IntentService {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &IntentService{
		db:       db,
		dir:      directory.New(db),
		checkout: checkout,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// LiveKey identifies the live intent of one provider on one slot
func LiveKey(leadID uuid.UUID, role models.JobRole, providerID uuid.UUID) string {
	return models.SlotKey(leadID, role) + ":" + providerID.String()
}

// CreateIntent opens a checkout session for providerID on the role. A live
// intent of the same provider is returned instead of a new one.
func (s *IntentService) CreateIntent(ctx context.Context, leadID uuid.UUID, role models.JobRole, providerID uuid.UUID) (*models.PurchaseIntent, error) {
	if !role.Valid() {
		return nil, models.InvalidInput("unknown job role %q", role)
	}
	db := s.db.WithContext(ctx)

	lead, err := ledger.LoadLead(db, leadID)
	if err != nil {
		return nil, err
	}
	if err := s.expireSlot(ctx, leadID, role); err != nil {
		return nil, err
	}

	if err := distribution.NewEvaluator(s.dir).CheckProvider(ctx, lead, role, providerID); err != nil {
		return nil, err
	}
	slot, _ := lead.Slot(role)

	// a reversed sale releases confirmed_key but keeps the intent CONFIRMED
	var confirmed int64
	if err := db.Model(&models.PurchaseIntent{}).
		Where("confirmed_key = ?", models.SlotKey(leadID, role)).
		Count(&confirmed).Error; err != nil {
		return nil, fmt.Errorf("error checking confirmed intents: %w", err)
	}
	if confirmed > 0 {
		return nil, models.ErrRoleAlreadyReserved
	}

	key := LiveKey(leadID, role, providerID)
	if existing, err := s.findLive(ctx, key); err != nil || existing != nil {
		return existing, err
	}

	if !s.cfg.ConcurrentIntents {
		var others int64
		if err := db.Model(&models.PurchaseIntent{}).
			Where("lead_id = ? AND job_role = ? AND status = ? AND provider_id <> ?", leadID, role, models.IntentCreated, providerID).
			Count(&others).Error; err != nil {
			return nil, fmt.Errorf("error checking live intents: %w", err)
		}
		if others > 0 {
			return nil, models.ErrRoleAlreadyReserved
		}
	}

	now := s.now()
	intent := &models.PurchaseIntent{
		LeadID:     leadID,
		JobRole:    role,
		ProviderID: providerID,
		Amount:     slot.Price,
		Status:     models.IntentCreated,
		ExpiresAt:  now.Add(s.cfg.TTL),
		LiveKey:    &key,
	}
	if err := db.Create(intent).Error; err != nil {
		if database.IsUniqueViolation(err) {
			// a concurrent request for the same provider won
			existing, ferr := s.findLive(ctx, key)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("error creating purchase intent: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	session, err := s.checkout.CreateCheckout(gctx, payment.CheckoutRequest{
		IntentID:    intent.ID,
		LeadID:      leadID,
		JobRole:     role,
		ProviderID:  providerID,
		Amount:      intent.Amount,
		Description: fmt.Sprintf("%s lead in %s, %s", role, lead.County, lead.State),
	})
	if err != nil {
		log.Printf("checkout session failed intent=%s lead=%s role=%s: %v", intent.ID, leadID, role, err)
		if xerr := s.expire(ctx, intent.ID); xerr != nil {
			log.Printf("error expiring failed intent %s: %v", intent.ID, xerr)
		}
		return nil, models.NewExternalDependencyError("checkout", err)
	}

	intent.ExternalSessionID = session.SessionID
	intent.CheckoutURL = session.URL
	if err := db.Model(intent).Updates(map[string]interface{}{
		"external_session_id": session.SessionID,
		"checkout_url":        session.URL,
	}).Error; err != nil {
		return nil, fmt.Errorf("error saving checkout session: %w", err)
	}
	return intent, nil
}

// GetIntent loads an intent, expiring it first when its TTL has passed
func (s *IntentService) GetIntent(ctx context.Context, id uuid.UUID) (*models.PurchaseIntent, error) {
	var intent models.PurchaseIntent
	err := s.db.WithContext(ctx).First(&intent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error finding intent: %w", err)
	}
	if intent.Status == models.IntentCreated && !intent.Live(s.now()) {
		if err := s.expire(ctx, intent.ID); err != nil {
			return nil, err
		}
		intent.Status = models.IntentExpired
		intent.LiveKey = nil
	}
	return &intent, nil
}

// ExpireStale marks every CREATED intent past its TTL as EXPIRED
func (s *IntentService) ExpireStale(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.PurchaseIntent{}).
		Where("status = ? AND expires_at <= ?", models.IntentCreated, s.now()).
		Updates(map[string]interface{}{"status": models.IntentExpired, "live_key": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("error expiring intents: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *IntentService) expireSlot(ctx context.Context, leadID uuid.UUID, role models.JobRole) error {
	err := s.db.WithContext(ctx).Model(&models.PurchaseIntent{}).
		Where("lead_id = ? AND job_role = ? AND status = ? AND expires_at <= ?", leadID, role, models.IntentCreated, s.now()).
		Updates(map[string]interface{}{"status": models.IntentExpired, "live_key": nil}).Error
	if err != nil {
		return fmt.Errorf("error expiring intents: %w", err)
	}
	return nil
}

func (s *IntentService) expire(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Model(&models.PurchaseIntent{}).
		Where("id = ? AND status = ?", id, models.IntentCreated).
		Updates(map[string]interface{}{"status": models.IntentExpired, "live_key": nil}).Error
	if err != nil {
		return fmt.Errorf("error expiring intent: %w", err)
	}
	return nil
}

func (s *IntentService) findLive(ctx context.Context, key string) (*models.PurchaseIntent, error) {
	var intent models.PurchaseIntent
	err := s.db.WithContext(ctx).Where("live_key = ? AND status = ?", key, models.IntentCreated).First(&intent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error finding live intent: %w", err)
	}
	return &intent, nil
}

// ConfirmForSettlement moves the provider's CREATED intent on the slot to
// CONFIRMED inside the settlement transaction. It prefers the intent whose
// checkout session produced the payment and returns nil when none is left.
func ConfirmForSettlement(tx *gorm.DB, leadID uuid.UUID, role models.JobRole, providerID uuid.UUID, sessionID, paymentReference string, now time.Time) (*uuid.UUID, error) {
	base := func() *gorm.DB {
		return tx.Where("lead_id = ? AND job_role = ? AND provider_id = ? AND status = ?", leadID, role, providerID, models.IntentCreated)
	}
	var intent models.PurchaseIntent
	err := gorm.ErrRecordNotFound
	if sessionID != "" {
		err = base().Where("external_session_id = ?", sessionID).First(&intent).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = base().Order("created_at desc").First(&intent).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error finding intent to confirm: %w", err)
	}

	key := models.SlotKey(leadID, role)
	res := tx.Model(&models.PurchaseIntent{}).
		Where("id = ? AND status = ?", intent.ID, models.IntentCreated).
		Updates(map[string]interface{}{
			"status":            models.IntentConfirmed,
			"confirmed_at":      now,
			"payment_reference": paymentReference,
			"live_key":          nil,
			"confirmed_key":     key,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("error confirming intent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &intent.ID, nil
}
