package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/services/notification"
	"github.com/leadbridge/backend/internal/services/payment"
)

// RecordingNotifier keeps every message it is asked to send
type RecordingNotifier struct {
	mu       sync.Mutex
	Messages []notification.Message
	Err      error
}

func (n *RecordingNotifier) Notify(ctx context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Messages = append(n.Messages, msg)
	return nil
}

// Templates returns the templates sent so far, in order
func (n *RecordingNotifier) Templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.Messages))
	for _, m := range n.Messages {
		out = append(out, m.Template)
	}
	return out
}

// PublishedEvent is one call to RecordingPublisher.Publish
type PublishedEvent struct {
	Type    string
	Payload []byte
	Key     string
}

// RecordingPublisher keeps every published event
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
	Err    error
}

func (p *RecordingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Events = append(p.Events, PublishedEvent{Type: eventType, Payload: payload, Key: partitionKey})
	return nil
}

// Types returns the published event types, in order
func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.Events))
	for _, e := range p.Events {
		out = append(out, e.Type)
	}
	return out
}

// FakeTransfers is an in-memory payment.TransferProvider. Requests for the
// same idempotency key return the first result, like the gateway does.
type FakeTransfers struct {
	mu       sync.Mutex
	Requests []payment.TransferRequest
	byKey    map[string]*payment.TransferResult
	Calls    map[uuid.UUID]int
	// Fail makes the next n transfers be declined
	Fail int
	// Lost makes the next n transfers execute but time out before answering
	Lost  int
	Delay time.Duration
}

func (f *FakeTransfers) Transfer(ctx context.Context, req payment.TransferRequest) (*payment.TransferResult, error) {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byKey == nil {
		f.byKey = make(map[string]*payment.TransferResult)
		f.Calls = make(map[uuid.UUID]int)
	}
	f.Requests = append(f.Requests, req)
	f.Calls[req.PayoutID]++
	if f.Fail > 0 {
		f.Fail--
		return nil, payment.ErrTransferDeclined
	}
	res, ok := f.byKey[req.IdempotencyKey]
	if !ok {
		res = &payment.TransferResult{Reference: fmt.Sprintf("tr_%d", len(f.byKey)+1)}
		f.byKey[req.IdempotencyKey] = res
	}
	if f.Lost > 0 {
		f.Lost--
		return nil, context.DeadlineExceeded
	}
	return res, nil
}

// Executed returns how many distinct transfers the gateway carried out
func (f *FakeTransfers) Executed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

// CallsFor returns how many transfers were requested for a payout
func (f *FakeTransfers) CallsFor(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[id]
}
