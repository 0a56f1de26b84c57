package queue

import (
	"context"
	"log"
	"time"
)

// RunOrEnqueue runs fn under timeout. When fn fails the payload is enqueued
// on queueName so a worker retries it later. The error of fn is returned
// for logging only.
func RunOrEnqueue(ctx context.Context, enq Enqueuer, timeout time.Duration, queueName string, payload interface{}, fn func(context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	err := fn(rctx)
	cancel()
	if err == nil {
		return nil
	}

	log.Printf("side effect %s failed: %v", queueName, err)
	if enq == nil {
		return err
	}

	// the caller's context may already be done by now
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if _, qerr := enq.Enqueue(ectx, queueName, payload); qerr != nil {
		log.Printf("could not enqueue retry on %s: %v (payload=%+v)", queueName, qerr, payload)
	}
	return err
}
