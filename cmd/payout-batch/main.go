// Command payout-batch runs a single affiliate payout batch and exits. It is
// meant for cron hosts and manual recovery when the server scheduler is off.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadbridge/backend/internal/config"
	"github.com/leadbridge/backend/internal/database"
	"github.com/leadbridge/backend/internal/events"
	"github.com/leadbridge/backend/internal/services/notification"
	stripeprovider "github.com/leadbridge/backend/internal/services/payment/providers/stripe"
	"github.com/leadbridge/backend/internal/services/payout"
)

func main() {
	cutoffFlag := flag.String("cutoff", "", "RFC3339 time; purchases older than cutoff minus the hold period are paid (default now)")
	timeout := flag.Duration("timeout", 10*time.Minute, "maximum run time")
	flag.Parse()

	cutoff := time.Now().UTC()
	if *cutoffFlag != "" {
		t, err := time.Parse(time.RFC3339, *cutoffFlag)
		if err != nil {
			log.Fatalf("Invalid -cutoff: %v", err)
		}
		cutoff = t.UTC()
	}

	cfg := config.LoadConfig()
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	var notifier notification.Notifier = notification.LogNotifier{}
	if cfg.SendGrid.APIKey != "" {
		notifier = notification.NewSendGridNotifier(notification.SendGridConfig{
			APIKey:    cfg.SendGrid.APIKey,
			FromEmail: cfg.SendGrid.FromEmail,
			FromName:  cfg.SendGrid.FromName,
			Sandbox:   cfg.SendGrid.Sandbox,
		})
	}
	var publisher events.Publisher = events.NewLoggingPublisher()
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka publisher: %v", err)
		}
		defer kafka.Close()
		publisher = kafka
	}

	stripe := stripeprovider.NewProvider(stripeprovider.Config{
		SecretKey: cfg.Stripe.SecretKey,
		Currency:  cfg.Payout.Currency,
	})
	// no queue: side effects run inline
	payouts := payout.NewPayoutService(db, stripe, notifier, publisher, nil, payout.Config{
		HoldPeriod:        cfg.Payout.HoldPeriod,
		BatchSize:         cfg.Payout.BatchSize,
		ClaimLease:        cfg.Payout.ClaimLease,
		RetryBase:         cfg.Payout.RetryBase,
		TransferTimeout:   cfg.Sales.GatewayTimeout,
		SideEffectTimeout: cfg.Sales.SideEffectTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	result, err := payouts.RunBatch(ctx, cutoff)
	if err != nil {
		log.Printf("Payout batch failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("batch=%s processed_count=%d failed_count=%d skipped_count=%d accrued_count=%d\n",
		result.BatchID, result.ProcessedCount, result.FailedCount, result.SkippedCount, result.AccruedCount)
	if result.FailedCount > 0 {
		os.Exit(2)
	}
}
