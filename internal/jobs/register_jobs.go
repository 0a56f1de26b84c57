package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/queue"
)

// SaleSideEffects are the retryable steps that follow a settled sale
type SaleSideEffects interface {
	AccruePayout(ctx context.Context, recordID uuid.UUID) error
	NotifySale(ctx context.Context, recordID uuid.UUID, recipient string) error
	PublishSale(ctx context.Context, recordID uuid.UUID) error
}

// PayoutSideEffects are the retryable steps that follow a paid payout
type PayoutSideEffects interface {
	NotifyPaid(ctx context.Context, payoutID uuid.UUID) error
	PublishPaid(ctx context.Context, payoutID uuid.UUID) error
}

// Registrar accepts queue handlers, normally a *queue.JobProcessor
type Registrar interface {
	RegisterHandler(queueName string, handler queue.JobHandler)
}

// RegisterAllJobHandlers registers all job handlers with the processor
func RegisterAllJobHandlers(r Registrar, sales SaleSideEffects, payouts PayoutSideEffects) {
	// Sale side effects
	r.RegisterHandler(queue.QueueAccruePayout, recordHandler(func(ctx context.Context, p queue.RecordJob) error {
		return sales.AccruePayout(ctx, p.PurchaseRecordID)
	}))
	r.RegisterHandler(queue.QueueNotifySale, recordHandler(func(ctx context.Context, p queue.RecordJob) error {
		if p.Recipient == "" {
			return fmt.Errorf("notify job for record %s has no recipient", p.PurchaseRecordID)
		}
		return sales.NotifySale(ctx, p.PurchaseRecordID, p.Recipient)
	}))
	r.RegisterHandler(queue.QueuePublishSale, recordHandler(func(ctx context.Context, p queue.RecordJob) error {
		return sales.PublishSale(ctx, p.PurchaseRecordID)
	}))

	// Payout side effects
	r.RegisterHandler(queue.QueueNotifyPayout, payoutHandler(payouts.NotifyPaid))
	r.RegisterHandler(queue.QueuePublishPayout, payoutHandler(payouts.PublishPaid))
}

func recordHandler(fn func(context.Context, queue.RecordJob) error) queue.JobHandler {
	return func(ctx context.Context, job queue.Job) (interface{}, error) {
		var p queue.RecordJob
		if err := job.Decode(&p); err != nil {
			return nil, fmt.Errorf("error decoding %s payload: %w", job.Queue, err)
		}
		if p.PurchaseRecordID == uuid.Nil {
			return nil, fmt.Errorf("%s job %s has no purchase record", job.Queue, job.ID)
		}
		return nil, fn(ctx, p)
	}
}

func payoutHandler(fn func(context.Context, uuid.UUID) error) queue.JobHandler {
	return func(ctx context.Context, job queue.Job) (interface{}, error) {
		var p queue.PayoutJob
		if err := job.Decode(&p); err != nil {
			return nil, fmt.Errorf("error decoding %s payload: %w", job.Queue, err)
		}
		if p.PayoutID == uuid.Nil {
			return nil, fmt.Errorf("%s job %s has no payout", job.Queue, job.ID)
		}
		return nil, fn(ctx, p.PayoutID)
	}
}
