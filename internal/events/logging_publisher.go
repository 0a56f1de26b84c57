package events

import (
	"context"
	"log"
)

// LoggingPublisher logs events instead of sending them
type LoggingPublisher struct{}

// NewLoggingPublisher creates a logging publisher
func NewLoggingPublisher() *LoggingPublisher {
	return &LoggingPublisher{}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	log.Printf("event published event_type=%s partition_key=%s payload_bytes=%d", eventType, partitionKey, len(payload))
	return nil
}
