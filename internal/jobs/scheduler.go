package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/leadbridge/backend/internal/services/payout"
)

// PayoutRunner runs payout batches
type PayoutRunner interface {
	RunBatch(ctx context.Context, cutoff time.Time) (*payout.BatchResult, error)
}

// IntentSweeper expires abandoned purchase intents
type IntentSweeper interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// LeadSweeper expires unsold leads past their TTL
type LeadSweeper interface {
	ExpireStaleLeads(ctx context.Context) (int64, error)
}

// Schedule holds the recurring job intervals
type Schedule struct {
	BatchInterval time.Duration
	ExpirySweep   time.Duration
	// RunTimeout bounds a single run of any recurring job
	RunTimeout time.Duration
}

// Scheduler runs the recurring payout batch and expiry sweeps. Each job is
// in singleton mode so a slow run is never overlapped by the next tick.
type Scheduler struct {
	payouts   PayoutRunner
	intents   IntentSweeper
	leads     LeadSweeper
	schedule  Schedule
	scheduler *gocron.Scheduler
	now       func() time.Time
}

// NewScheduler creates a scheduler; Start registers and starts the jobs
func NewScheduler(payouts PayoutRunner, intents IntentSweeper, leads LeadSweeper, schedule Schedule) *Scheduler {
	if schedule.BatchInterval <= 0 {
		schedule.BatchInterval = time.Hour
	}
	if schedule.ExpirySweep <= 0 {
		schedule.ExpirySweep = 15 * time.Minute
	}
	if schedule.RunTimeout <= 0 {
		schedule.RunTimeout = 10 * time.Minute
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		payouts:   payouts,
		intents:   intents,
		leads:     leads,
		schedule:  schedule,
		scheduler: s,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules all recurring jobs and starts the scheduler in the background
func (s *Scheduler) Start() error {
	if _, err := s.scheduler.Every(s.schedule.BatchInterval).Tag("payout_batch").Do(s.run, "payout batch", s.RunPayoutBatch); err != nil {
		return fmt.Errorf("error scheduling payout batch: %w", err)
	}
	if _, err := s.scheduler.Every(s.schedule.ExpirySweep).Tag("expiry_sweep").Do(s.run, "expiry sweep", s.RunExpirySweep); err != nil {
		return fmt.Errorf("error scheduling expiry sweep: %w", err)
	}
	s.scheduler.StartAsync()
	log.Printf("Scheduler started: payout batch every %s, expiry sweep every %s",
		s.schedule.BatchInterval, s.schedule.ExpirySweep)
	return nil
}

// Stop stops the scheduler. A run in progress is not interrupted.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	log.Println("Scheduler stopped")
}

// Jobs reports the number of scheduled jobs
func (s *Scheduler) Jobs() int {
	return s.scheduler.Len()
}

func (s *Scheduler) run(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.schedule.RunTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Printf("Error running %s: %v", name, err)
	}
}

// RunPayoutBatch pays everything due now
func (s *Scheduler) RunPayoutBatch(ctx context.Context) error {
	_, err := s.payouts.RunBatch(ctx, s.now())
	return err
}

// RunExpirySweep expires stale intents and leads. Both sweeps run even if
// one fails.
func (s *Scheduler) RunExpirySweep(ctx context.Context) error {
	var firstErr error
	if _, err := s.intents.ExpireStale(ctx); err != nil {
		firstErr = fmt.Errorf("error expiring intents: %w", err)
	}
	if _, err := s.leads.ExpireStaleLeads(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("error expiring leads: %w", err)
	}
	return firstErr
}
