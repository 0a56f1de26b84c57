// Package payout accrues and transfers affiliate payouts in batches
package payout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/directory"
	"github.com/leadbridge/backend/internal/events"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/queue"
	"github.com/leadbridge/backend/internal/services/notification"
	"github.com/leadbridge/backend/internal/services/payment"
	"github.com/leadbridge/backend/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errNoPayoutAccount = errors.New("affiliate has no payout account")

// maxRetryDelay caps the wait between failed transfers of one payout
const maxRetryDelay = 24 * time.Hour

// Config holds batch settings
type Config struct {
	HoldPeriod        time.Duration
	BatchSize         int
	ClaimLease        time.Duration
	RetryBase         time.Duration
	TransferTimeout   time.Duration
	SideEffectTimeout time.Duration
}

// BatchResult summarizes one batch run
type BatchResult struct {
	BatchID        string `json:"batch_id"`
	ProcessedCount int    `json:"processed_count"`
	FailedCount    int    `json:"failed_count"`
	SkippedCount   int    `json:"skipped_count"`
	AccruedCount   int    `json:"accrued_count"`
}

// PayoutService runs payout batches
type PayoutService struct {
	db        *gorm.DB
	dir       *directory.Repository
	transfers payment.TransferProvider
	notifier  notification.Notifier
	publisher events.Publisher
	enqueuer  queue.Enqueuer
	cfg       Config
	now       func() time.Time
}

// NewPayoutService creates a new payout service. enqueuer may be nil.
func NewPayoutService(db *gorm.DB, transfers payment.TransferProvider, notifier notification.Notifier, publisher events.Publisher, enqueuer queue.Enqueuer, cfg Config) *PayoutService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 5 * time.Minute
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 30 * time.Minute
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 30 * time.Second
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 5 * time.Second
	}
	return &PayoutService{
		db:        db,
		dir:       directory.New(db),
		transfers: transfers,
		notifier:  notifier,
		publisher: publisher,
		enqueuer:  enqueuer,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Accrue creates the pending payout owed for record. It reports whether a
// row was created; an existing payout is left untouched.
func Accrue(tx *gorm.DB, record *models.PurchaseRecord) (bool, error) {
	p := &models.Payout{
		PurchaseRecordID: record.ID,
		LeadID:           record.LeadID,
		AffiliateID:      record.AffiliateID,
		Amount:           record.AffiliatePrice,
		Status:           models.PayoutPending,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "purchase_record_id"}},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return false, fmt.Errorf("error accruing payout: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AccrueRecord accrues the payout of one purchase record
func (s *PayoutService) AccrueRecord(ctx context.Context, recordID uuid.UUID) error {
	var record models.PurchaseRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// reversed before the retry ran
		return nil
	}
	if err != nil {
		return fmt.Errorf("error finding purchase record: %w", err)
	}
	_, err = Accrue(s.db.WithContext(ctx), &record)
	return err
}

// AccrueMissing creates payouts for purchase records that have none
func (s *PayoutService) AccrueMissing(ctx context.Context) (int, error) {
	var records []models.PurchaseRecord
	err := s.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM payouts WHERE payouts.purchase_record_id = purchase_records.id)").
		Find(&records).Error
	if err != nil {
		return 0, fmt.Errorf("error finding unaccrued purchases: %w", err)
	}

	accrued := 0
	for i := range records {
		created, err := Accrue(s.db.WithContext(ctx), &records[i])
		if err != nil {
			return accrued, err
		}
		if created {
			accrued++
		}
	}
	return accrued, nil
}

// RunBatch pays every due payout whose purchase is at least the hold period
// older than cutoff and whose lead can sell nothing more. It is safe to run concurrently with itself.
func (s *PayoutService) RunBatch(ctx context.Context, cutoff time.Time) (*BatchResult, error) {
	result := &BatchResult{BatchID: utils.GenerateReference("PB")}

	accrued, err := s.AccrueMissing(ctx)
	if err != nil {
		return nil, err
	}
	result.AccruedCount = accrued

	candidates, err := s.candidates(ctx, cutoff.UTC())
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		switch s.processOne(ctx, result.BatchID, candidates[i].ID) {
		case outcomePaid:
			result.ProcessedCount++
		case outcomeFailed:
			result.FailedCount++
		default:
			result.SkippedCount++
		}
	}

	log.Printf("payout batch %s: processed=%d failed=%d skipped=%d accrued=%d",
		result.BatchID, result.ProcessedCount, result.FailedCount, result.SkippedCount, result.AccruedCount)
	return result, nil
}

func (s *PayoutService) candidates(ctx context.Context, cutoff time.Time) ([]models.Payout, error) {
	now := s.now()
	var payouts []models.Payout
	err := s.db.WithContext(ctx).Model(&models.Payout{}).
		Joins("JOIN leads ON leads.id = payouts.lead_id").
		Joins("JOIN purchase_records ON purchase_records.id = payouts.purchase_record_id").
		Where("payouts.status = ? AND payouts.amount > 0", models.PayoutPending).
		// sold, or its sale window closed with some roles left unsold
		Where("(leads.status = ? OR leads.expires_at <= ?)", models.LeadStatusSold, now).
		Where("purchase_records.purchased_at <= ?", cutoff.Add(-s.cfg.HoldPeriod)).
		Where("(payouts.next_attempt_at IS NULL OR payouts.next_attempt_at <= ?)", now).
		Where("(payouts.claimed_until IS NULL OR payouts.claimed_until < ?)", now).
		Order("purchase_records.purchased_at").
		Limit(s.cfg.BatchSize).
		Find(&payouts).Error
	if err != nil {
		return nil, fmt.Errorf("error selecting payouts: %w", err)
	}
	return payouts, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomePaid
	outcomeFailed
)

// IdempotencyKey is stable until the gateway declines a transfer, so a
// retry after a timeout or lost lease is deduplicated by the gateway
func IdempotencyKey(p *models.Payout) string {
	return fmt.Sprintf("payout-%s-%d", p.ID, p.KeyGeneration)
}

func (s *PayoutService) processOne(ctx context.Context, batchID string, id uuid.UUID) outcome {
	db := s.db.WithContext(ctx)
	now := s.now()
	token := uuid.NewString()

	res := db.Model(&models.Payout{}).
		Where("id = ? AND status = ? AND (claimed_until IS NULL OR claimed_until < ?)", id, models.PayoutPending, now).
		Updates(map[string]interface{}{
			"claim_token":   token,
			"claimed_until": now.Add(s.cfg.ClaimLease),
		})
	if res.Error != nil {
		log.Printf("error claiming payout %s: %v", id, res.Error)
		return outcomeSkipped
	}
	if res.RowsAffected == 0 {
		return outcomeSkipped
	}

	var p models.Payout
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		log.Printf("error loading claimed payout %s: %v", id, err)
		return outcomeSkipped
	}

	affiliate, err := s.dir.Affiliate(ctx, p.AffiliateID)
	if err != nil {
		return s.fail(ctx, batchID, &p, token, err)
	}
	if affiliate.PayoutAccountID == nil || *affiliate.PayoutAccountID == "" {
		return s.fail(ctx, batchID, &p, token, errNoPayoutAccount)
	}

	tctx, cancel := context.WithTimeout(ctx, s.cfg.TransferTimeout)
	transfer, err := s.transfers.Transfer(tctx, payment.TransferRequest{
		PayoutID:       p.ID,
		Destination:    *affiliate.PayoutAccountID,
		Amount:         p.Amount,
		IdempotencyKey: IdempotencyKey(&p),
		Metadata: map[string]string{
			payment.MetadataPayoutID: p.ID.String(),
			payment.MetadataLeadID:   p.LeadID.String(),
		},
	})
	cancel()
	if err != nil {
		return s.fail(ctx, batchID, &p, token, err)
	}

	paidAt := s.now()
	res = db.Model(&models.Payout{}).
		Where("id = ? AND status = ? AND claim_token = ?", p.ID, models.PayoutPending, token).
		Updates(map[string]interface{}{
			"status":                    models.PayoutPaid,
			"paid_at":                   paidAt,
			"external_payout_reference": transfer.Reference,
			"claim_token":               nil,
			"claimed_until":             nil,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		// the lease ran out mid-transfer; the run that holds it now reuses
		// the idempotency key and finalizes
		log.Printf("CRITICAL: payout %s transferred ref=%s but batch %s lost its claim: %v", p.ID, transfer.Reference, batchID, res.Error)
		return outcomeSkipped
	}

	s.recordAttempt(ctx, batchID, &p, models.PayoutAttemptPaid, &transfer.Reference, "")
	log.Printf("payout %s paid amount=%s affiliate=%s ref=%s", p.ID, p.Amount, p.AffiliateID, transfer.Reference)

	job := queue.PayoutJob{PayoutID: p.ID}
	_ = queue.RunOrEnqueue(ctx, s.enqueuer, s.cfg.SideEffectTimeout, queue.QueueNotifyPayout, job, func(ctx context.Context) error {
		return s.NotifyPaid(ctx, p.ID)
	})
	_ = queue.RunOrEnqueue(ctx, s.enqueuer, s.cfg.SideEffectTimeout, queue.QueuePublishPayout, job, func(ctx context.Context) error {
		return s.PublishPaid(ctx, p.ID)
	})
	return outcomePaid
}

func (s *PayoutService) fail(ctx context.Context, batchID string, p *models.Payout, token string, cause error) outcome {
	now := s.now()
	next := now.Add(RetryDelay(s.cfg.RetryBase, p.FailureCount))
	updates := map[string]interface{}{
		"failure_count":   gorm.Expr("failure_count + 1"),
		"last_failure":    cause.Error(),
		"next_attempt_at": next,
		"claim_token":     nil,
		"claimed_until":   nil,
	}
	if payment.IsDeclined(cause) {
		updates["key_generation"] = gorm.Expr("key_generation + 1")
	}
	err := s.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND claim_token = ?", p.ID, token).
		Updates(updates).Error
	if err != nil {
		log.Printf("error releasing failed payout %s: %v", p.ID, err)
	}
	s.recordAttempt(ctx, batchID, p, models.PayoutAttemptFailed, nil, cause.Error())
	log.Printf("payout %s failed attempt=%d next=%s: %v", p.ID, p.FailureCount+1, next.Format(time.RFC3339), cause)
	return outcomeFailed
}

func (s *PayoutService) recordAttempt(ctx context.Context, batchID string, p *models.Payout, result models.PayoutAttemptOutcome, ref *string, msg string) {
	attempt := &models.PayoutAttempt{
		PayoutID:          p.ID,
		BatchID:           batchID,
		Amount:            p.Amount,
		Outcome:           result,
		ExternalReference: ref,
		Error:             msg,
		AttemptedAt:       s.now(),
	}
	if err := s.db.WithContext(ctx).Create(attempt).Error; err != nil {
		log.Printf("error recording payout attempt for %s: %v", p.ID, err)
	}
}

// RetryDelay doubles base for every failure, up to a day
func RetryDelay(base time.Duration, failures int) time.Duration {
	d := float64(base) * math.Pow(2, float64(failures))
	if d > float64(maxRetryDelay) {
		return maxRetryDelay
	}
	return time.Duration(d)
}

func (s *PayoutService) paid(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var p models.Payout
	if err := s.db.WithContext(ctx).First(&p, "id = ? AND status = ?", id, models.PayoutPaid).Error; err != nil {
		return nil, fmt.Errorf("error finding paid payout %s: %w", id, err)
	}
	return &p, nil
}

// NotifyPaid emails the affiliate about a paid payout
func (s *PayoutService) NotifyPaid(ctx context.Context, id uuid.UUID) error {
	p, err := s.paid(ctx, id)
	if err != nil {
		return err
	}
	affiliate, err := s.dir.Affiliate(ctx, p.AffiliateID)
	if err != nil {
		return err
	}
	ref := ""
	if p.ExternalPayoutReference != nil {
		ref = *p.ExternalPayoutReference
	}
	return s.notifier.Notify(ctx, notification.Message{
		ToEmail:  affiliate.Email,
		ToName:   affiliate.Name,
		Template: notification.TemplatePayoutPaid,
		Data: map[string]string{
			"amount":    p.Amount.StringFixed(2),
			"lead_id":   p.LeadID.String(),
			"reference": ref,
		},
	})
}

// PublishPaid publishes payout.paid
func (s *PayoutService) PublishPaid(ctx context.Context, id uuid.UUID) error {
	p, err := s.paid(ctx, id)
	if err != nil {
		return err
	}
	data := events.PayoutPaid{
		PayoutID:    p.ID,
		AffiliateID: p.AffiliateID,
		LeadID:      p.LeadID,
		Amount:      p.Amount,
	}
	if p.ExternalPayoutReference != nil {
		data.ExternalReference = *p.ExternalPayoutReference
	}
	if p.PaidAt != nil {
		data.PaidAt = *p.PaidAt
	}
	payload, err := events.Encode("payout_paid:"+p.ID.String(), events.TypePayoutPaid, data, data.PaidAt)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, events.TypePayoutPaid, payload, p.LeadID.String())
}
