package queue

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Queues for side effects retried outside the settlement and payout paths
const (
	QueueNotifySale    = "notify_sale"
	QueueAccruePayout  = "accrue_payout"
	QueuePublishSale   = "publish_sale"
	QueueNotifyPayout  = "notify_payout"
	QueuePublishPayout = "publish_payout"
)

// Notification recipients of a sale
const (
	RecipientProvider  = "provider"
	RecipientAffiliate = "affiliate"
)

// RecordJob references the purchase record a sale side effect is about
type RecordJob struct {
	PurchaseRecordID uuid.UUID `json:"purchase_record_id"`
	Recipient        string    `json:"recipient,omitempty"`
}

// PayoutJob references a paid payout
type PayoutJob struct {
	PayoutID uuid.UUID `json:"payout_id"`
}

const (
	DefaultRetryCount = 5
	DefaultTTL        = 7 * 24 * time.Hour
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job represents a background job
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Status     JobStatus       `json:"status"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	RunAt      time.Time       `json:"run_at"`
}

// JobHandler is a function that processes a job
type JobHandler func(ctx context.Context, job Job) (interface{}, error)

// Enqueuer is what services need to hand work to the queue
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error)
}

// EnqueueOption modifies a job before it is stored
type EnqueueOption func(*Job)

// WithMaxRetries sets the maximum number of retries for a job
func WithMaxRetries(maxRetries int) EnqueueOption {
	return func(j *Job) {
		j.MaxRetries = maxRetries
	}
}

// WithDelay postpones the first run
func WithDelay(delay time.Duration) EnqueueOption {
	return func(j *Job) {
		j.RunAt = j.RunAt.Add(delay)
	}
}

// Decode unmarshals the job payload into v
func (j Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// calculateBackoff calculates the backoff duration for a retry
func calculateBackoff(retry int) time.Duration {
	// Exponential backoff with jitter
	// Base: 5 seconds
	// Max: 1 hour
	base := 5.0
	max := 3600.0

	seconds := math.Min(max, base*math.Pow(2, float64(retry)))

	// Add jitter (±20%)
	jitter := seconds * 0.2
	seconds = seconds - jitter + (rand.Float64() * jitter * 2)

	return time.Duration(seconds) * time.Second
}
