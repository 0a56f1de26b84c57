package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// JobProcessor processes jobs from queues
type JobProcessor struct {
	queue       *RedisQueue
	handlers    map[string]JobHandler
	workerCount int
	pollWait    time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewJobProcessor creates a new JobProcessor
func NewJobProcessor(queue *RedisQueue, workerCount int) *JobProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobProcessor{
		queue:       queue,
		handlers:    make(map[string]JobHandler),
		workerCount: workerCount,
		pollWait:    time.Second,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterHandler registers a handler for a specific queue
func (p *JobProcessor) RegisterHandler(queueName string, handler JobHandler) {
	p.handlers[queueName] = handler
}

// Start starts the job processor
func (p *JobProcessor) Start() {
	log.Printf("Starting job processor with %d workers", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops the job processor and waits for running jobs
func (p *JobProcessor) Stop() {
	log.Println("Stopping job processor")
	p.cancel()
	p.wg.Wait()
	log.Println("Job processor stopped")
}

func (p *JobProcessor) worker(id int) {
	defer p.wg.Done()

	queues := make([]string, 0, len(p.handlers))
	for queue := range p.handlers {
		queues = append(queues, queue)
	}
	if len(queues) == 0 {
		log.Printf("Worker %d exiting: no queues registered", id)
		return
	}

	for {
		for _, queueName := range queues {
			select {
			case <-p.ctx.Done():
				return
			default:
			}
			if _, err := p.ProcessNext(p.ctx, queueName); err != nil && p.ctx.Err() == nil {
				log.Printf("Worker %d error on queue %s: %v", id, queueName, err)
			}
		}
	}
}

// ProcessNext runs at most one job from queueName. It reports whether a job was found.
func (p *JobProcessor) ProcessNext(ctx context.Context, queueName string) (bool, error) {
	job, err := p.queue.Dequeue(ctx, queueName, p.pollWait)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, p.ProcessJob(ctx, job)
}

// ProcessJob processes a single job
func (p *JobProcessor) ProcessJob(ctx context.Context, job *Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}

	handler, ok := p.handlers[job.Queue]
	if !ok {
		err := fmt.Errorf("no handler registered for queue: %s", job.Queue)
		_ = p.queue.Fail(ctx, job.ID, err)
		return err
	}

	if _, err := handler(ctx, *job); err != nil {
		if failErr := p.queue.Fail(ctx, job.ID, err); failErr != nil {
			log.Printf("Failed to record failure of job %s: %v", job.ID, failErr)
		}
		return fmt.Errorf("job processing failed: %w", err)
	}

	return p.queue.Complete(ctx, job.ID)
}
