package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEventStatus is the processing outcome of an inbound gateway event
type WebhookEventStatus string

const (
	WebhookReceived  WebhookEventStatus = "received"
	WebhookProcessed WebhookEventStatus = "processed"
	WebhookIgnored   WebhookEventStatus = "ignored"
	WebhookConflict  WebhookEventStatus = "conflict"
	WebhookFailed    WebhookEventStatus = "failed"
)

// WebhookEvent keeps the raw payload of every delivery for audit
type WebhookEvent struct {
	Base
	Provider        string             `gorm:"type:varchar(50);not null;uniqueIndex:idx_webhook_events_provider_event" json:"provider"`
	ProviderEventID string             `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_events_provider_event" json:"provider_event_id"`
	EventType       string             `gorm:"type:varchar(100);not null" json:"event_type"`
	Payload         datatypes.JSONMap  `json:"payload"`
	Status          WebhookEventStatus `gorm:"type:varchar(20);not null" json:"status"`
	Error           string             `gorm:"type:text" json:"error,omitempty"`
	Deliveries      int                `gorm:"not null" json:"deliveries"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
}
