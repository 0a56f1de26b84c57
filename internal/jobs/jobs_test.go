package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/queue"
	"github.com/leadbridge/backend/internal/services/payout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerMap map[string]queue.JobHandler

func (m handlerMap) RegisterHandler(name string, h queue.JobHandler) { m[name] = h }

type call struct {
	Name      string
	ID        uuid.UUID
	Recipient string
}

type fakeEffects struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeEffects) add(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeEffects) AccruePayout(ctx context.Context, id uuid.UUID) error {
	return f.add(call{Name: "accrue", ID: id})
}

func (f *fakeEffects) NotifySale(ctx context.Context, id uuid.UUID, recipient string) error {
	return f.add(call{Name: "notify_sale", ID: id, Recipient: recipient})
}

func (f *fakeEffects) PublishSale(ctx context.Context, id uuid.UUID) error {
	return f.add(call{Name: "publish_sale", ID: id})
}

func (f *fakeEffects) NotifyPaid(ctx context.Context, id uuid.UUID) error {
	return f.add(call{Name: "notify_paid", ID: id})
}

func (f *fakeEffects) PublishPaid(ctx context.Context, id uuid.UUID) error {
	return f.add(call{Name: "publish_paid", ID: id})
}

func job(t *testing.T, queueName string, payload interface{}) queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Job{ID: uuid.NewString(), Queue: queueName, Payload: raw}
}

func TestRegisterAllJobHandlers(t *testing.T) {
	handlers := handlerMap{}
	effects := &fakeEffects{}
	RegisterAllJobHandlers(handlers, effects, effects)

	require.Len(t, handlers, 5)
	recordID, payoutID := uuid.New(), uuid.New()
	ctx := context.Background()

	_, err := handlers[queue.QueueAccruePayout](ctx, job(t, queue.QueueAccruePayout, queue.RecordJob{PurchaseRecordID: recordID}))
	require.NoError(t, err)
	_, err = handlers[queue.QueueNotifySale](ctx, job(t, queue.QueueNotifySale, queue.RecordJob{PurchaseRecordID: recordID, Recipient: queue.RecipientAffiliate}))
	require.NoError(t, err)
	_, err = handlers[queue.QueuePublishSale](ctx, job(t, queue.QueuePublishSale, queue.RecordJob{PurchaseRecordID: recordID}))
	require.NoError(t, err)
	_, err = handlers[queue.QueueNotifyPayout](ctx, job(t, queue.QueueNotifyPayout, queue.PayoutJob{PayoutID: payoutID}))
	require.NoError(t, err)
	_, err = handlers[queue.QueuePublishPayout](ctx, job(t, queue.QueuePublishPayout, queue.PayoutJob{PayoutID: payoutID}))
	require.NoError(t, err)

	assert.Equal(t, []call{
		{Name: "accrue", ID: recordID},
		{Name: "notify_sale", ID: recordID, Recipient: queue.RecipientAffiliate},
		{Name: "publish_sale", ID: recordID},
		{Name: "notify_paid", ID: payoutID},
		{Name: "publish_paid", ID: payoutID},
	}, effects.calls)
}

func TestJobHandlersRejectBadPayloads(t *testing.T) {
	handlers := handlerMap{}
	effects := &fakeEffects{}
	RegisterAllJobHandlers(handlers, effects, effects)
	ctx := context.Background()

	_, err := handlers[queue.QueuePublishSale](ctx, queue.Job{Queue: queue.QueuePublishSale, Payload: json.RawMessage(`not json`)})
	assert.Error(t, err)
	_, err = handlers[queue.QueueAccruePayout](ctx, job(t, queue.QueueAccruePayout, queue.RecordJob{}))
	assert.Error(t, err)
	_, err = handlers[queue.QueueNotifySale](ctx, job(t, queue.QueueNotifySale, queue.RecordJob{PurchaseRecordID: uuid.New()}))
	assert.Error(t, err)
	_, err = handlers[queue.QueueNotifyPayout](ctx, job(t, queue.QueueNotifyPayout, queue.PayoutJob{}))
	assert.Error(t, err)
	assert.Empty(t, effects.calls)

	// side effect errors reach the processor so the job is retried
	effects.err = errors.New("smtp down")
	_, err = handlers[queue.QueueNotifyPayout](ctx, job(t, queue.QueueNotifyPayout, queue.PayoutJob{PayoutID: uuid.New()}))
	assert.EqualError(t, err, "smtp down")
}

type fakeRunner struct {
	batches  atomic.Int32
	intents  atomic.Int32
	leads    atomic.Int32
	batchErr error
	sweepErr error
	cutoff   atomic.Value
}

func (f *fakeRunner) RunBatch(ctx context.Context, cutoff time.Time) (*payout.BatchResult, error) {
	f.batches.Add(1)
	f.cutoff.Store(cutoff)
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return &payout.BatchResult{BatchID: "b1", ProcessedCount: 2}, nil
}

func (f *fakeRunner) ExpireStale(ctx context.Context) (int64, error) {
	f.intents.Add(1)
	return 0, f.sweepErr
}

func (f *fakeRunner) ExpireStaleLeads(ctx context.Context) (int64, error) {
	f.leads.Add(1)
	return 0, nil
}

func TestSchedulerTasks(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, runner, runner, Schedule{})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.RunPayoutBatch(context.Background()))
	assert.Equal(t, int32(1), runner.batches.Load())
	assert.Equal(t, fixed, runner.cutoff.Load())

	runner.batchErr = errors.New("db gone")
	assert.EqualError(t, s.RunPayoutBatch(context.Background()), "db gone")

	runner.sweepErr = errors.New("timeout")
	err := s.RunExpirySweep(context.Background())
	assert.ErrorContains(t, err, "error expiring intents")
	// the lead sweep still ran
	assert.Equal(t, int32(1), runner.leads.Load())
}

func TestSchedulerStartStop(t *testing.T) {
	runner := &fakeRunner{}
	s := NewScheduler(runner, runner, runner, Schedule{BatchInterval: time.Hour, ExpirySweep: time.Hour, RunTimeout: time.Second})
	require.NoError(t, s.Start())
	assert.Equal(t, 2, s.Jobs())

	// both jobs run once on start
	assert.Eventually(t, func() bool {
		return runner.batches.Load() == 1 && runner.intents.Load() == 1 && runner.leads.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()
}
