package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/directory"
	"github.com/leadbridge/backend/internal/events"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/queue"
	"github.com/leadbridge/backend/internal/services/notification"
	"github.com/leadbridge/backend/internal/services/payout"
	"gorm.io/gorm"
)

// SaleEffects accrues the payout, sends the sale emails and publishes the
// sale events of a committed purchase. Each step that fails is handed to
// the queue and retried by a worker through the same exported methods.
type SaleEffects struct {
	db        *gorm.DB
	dir       *directory.Repository
	notifier  notification.Notifier
	publisher events.Publisher
	enqueuer  queue.Enqueuer
	timeout   time.Duration
}

// NewSaleEffects creates the post-settlement side effects. enqueuer may be nil.
func NewSaleEffects(db *gorm.DB, notifier notification.Notifier, publisher events.Publisher, enqueuer queue.Enqueuer, timeout time.Duration) *SaleEffects {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SaleEffects{
		db:        db,
		dir:       directory.New(db),
		notifier:  notifier,
		publisher: publisher,
		enqueuer:  enqueuer,
		timeout:   timeout,
	}
}

// AfterSale runs every side effect of record. It never fails the sale.
func (e *SaleEffects) AfterSale(ctx context.Context, record *models.PurchaseRecord) {
	job := queue.RecordJob{PurchaseRecordID: record.ID}
	_ = queue.RunOrEnqueue(ctx, e.enqueuer, e.timeout, queue.QueueAccruePayout, job, func(ctx context.Context) error {
		return e.AccruePayout(ctx, record.ID)
	})

	for _, recipient := range []string{queue.RecipientProvider, queue.RecipientAffiliate} {
		job := queue.RecordJob{PurchaseRecordID: record.ID, Recipient: recipient}
		_ = queue.RunOrEnqueue(ctx, e.enqueuer, e.timeout, queue.QueueNotifySale, job, func(ctx context.Context) error {
			return e.NotifySale(ctx, job.PurchaseRecordID, job.Recipient)
		})
	}

	_ = queue.RunOrEnqueue(ctx, e.enqueuer, e.timeout, queue.QueuePublishSale, job, func(ctx context.Context) error {
		return e.PublishSale(ctx, record.ID)
	})
}

// errRecordGone means the purchase was reversed before a retry ran
var errRecordGone = errors.New("purchase record no longer exists")

func (e *SaleEffects) record(ctx context.Context, id uuid.UUID) (*models.PurchaseRecord, error) {
	var record models.PurchaseRecord
	err := e.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errRecordGone
	}
	if err != nil {
		return nil, fmt.Errorf("error finding purchase record: %w", err)
	}
	return &record, nil
}

// AccruePayout creates the pending payout of a purchase record
func (e *SaleEffects) AccruePayout(ctx context.Context, recordID uuid.UUID) error {
	record, err := e.record(ctx, recordID)
	if errors.Is(err, errRecordGone) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = payout.Accrue(e.db.WithContext(ctx), record)
	return err
}

// NotifySale emails the buying provider or the lead's affiliate
func (e *SaleEffects) NotifySale(ctx context.Context, recordID uuid.UUID, recipient string) error {
	record, err := e.record(ctx, recordID)
	if errors.Is(err, errRecordGone) {
		return nil
	}
	if err != nil {
		return err
	}

	data := map[string]string{
		"lead_id":           record.LeadID.String(),
		"job_role":          string(record.JobRole),
		"amount":            record.AcquisitionCost.StringFixed(2),
		"affiliate_amount":  record.AffiliatePrice.StringFixed(2),
		"payment_reference": record.PaymentReference,
	}

	switch recipient {
	case queue.RecipientProvider:
		provider, err := e.dir.Provider(ctx, record.ProviderID)
		if err != nil {
			return err
		}
		return e.notifier.Notify(ctx, notification.Message{
			ToEmail: provider.Email, ToName: provider.Name, Template: notification.TemplateLeadPurchased, Data: data,
		})
	case queue.RecipientAffiliate:
		affiliate, err := e.dir.Affiliate(ctx, record.AffiliateID)
		if err != nil {
			return err
		}
		return e.notifier.Notify(ctx, notification.Message{
			ToEmail: affiliate.Email, ToName: affiliate.Name, Template: notification.TemplateLeadRoleSold, Data: data,
		})
	default:
		return fmt.Errorf("unknown sale notification recipient %q", recipient)
	}
}

// PublishSale publishes lead.role_sold, and lead.sold once the lead is sold
func (e *SaleEffects) PublishSale(ctx context.Context, recordID uuid.UUID) error {
	record, err := e.record(ctx, recordID)
	if errors.Is(err, errRecordGone) {
		return nil
	}
	if err != nil {
		return err
	}

	payload, err := events.Encode("role_sold:"+record.ID.String(), events.TypeRoleSold, events.RoleSold{
		LeadID:           record.LeadID,
		JobRole:          string(record.JobRole),
		ProviderID:       record.ProviderID,
		AffiliateID:      record.AffiliateID,
		PurchaseRecordID: record.ID,
		PaymentReference: record.PaymentReference,
		AcquisitionCost:  record.AcquisitionCost,
		PurchasedAt:      record.PurchasedAt,
	}, record.PurchasedAt)
	if err != nil {
		return err
	}
	if err := e.publisher.Publish(ctx, events.TypeRoleSold, payload, record.LeadID.String()); err != nil {
		return err
	}

	var lead models.Lead
	if err := e.db.WithContext(ctx).First(&lead, "id = ?", record.LeadID).Error; err != nil {
		return fmt.Errorf("error finding lead: %w", err)
	}
	if lead.Status != models.LeadStatusSold || lead.SoldAt == nil {
		return nil
	}
	payload, err = events.Encode("lead_sold:"+lead.ID.String(), events.TypeLeadSold, events.LeadSold{
		LeadID:      lead.ID,
		AffiliateID: lead.AffiliateID,
		SoldAt:      *lead.SoldAt,
	}, *lead.SoldAt)
	if err != nil {
		return err
	}
	return e.publisher.Publish(ctx, events.TypeLeadSold, payload, lead.ID.String())
}
