package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DOPPLER_PROJECT", "leadbridge-test")
	t.Setenv("PATH", "")
	t.Setenv("INTENT_TTL_HOURS", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := LoadConfig()

	assert.Equal(t, 24*time.Hour, cfg.Sales.IntentTTL)
	assert.False(t, cfg.Sales.ConcurrentIntents)
	assert.Equal(t, 100, cfg.Payout.BatchSize)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"*"}, cfg.Security.CORSAllowedOrigins)
	assert.NotEmpty(t, cfg.JWT.Secret)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("PATH", "")
	t.Setenv("INTENT_TTL_HOURS", "2")
	t.Setenv("SALES_CONCURRENT_INTENTS", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("PAYOUT_BATCH_SIZE", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, 2*time.Hour, cfg.Sales.IntentTTL)
	assert.True(t, cfg.Sales.ConcurrentIntents)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "whsec_test", cfg.Stripe.WebhookSecret)
	assert.Equal(t, 100, cfg.Payout.BatchSize)
}
