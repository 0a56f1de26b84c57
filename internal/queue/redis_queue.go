package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	jobKeyPrefix     = "jobs:"
	delayedKeyPrefix = "delayed:"
	deadKeyPrefix    = "dead:"
)

// RedisQueue stores ready jobs in a list per queue, delayed jobs in a
// sorted set scored by run time and job state in a hash per job
type RedisQueue struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisQueue creates a new Redis queue
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client: client,
		now:    time.Now,
	}
}

// Enqueue adds a job to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload interface{}, opts ...EnqueueOption) (string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := q.now()
	job := &Job{
		ID:         uuid.New().String(),
		Queue:      queueName,
		Payload:    payloadBytes,
		Status:     JobStatusPending,
		MaxRetries: DefaultRetryCount,
		CreatedAt:  now,
		UpdatedAt:  now,
		RunAt:      now,
	}
	for _, opt := range opts {
		opt(job)
	}

	if job.RunAt.After(now) {
		err = q.schedule(ctx, job)
	} else {
		err = q.push(ctx, job)
	}
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *RedisQueue) push(ctx context.Context, job *Job) error {
	jobBytes, err := q.save(ctx, job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, job.Queue, jobBytes).Err(); err != nil {
		return fmt.Errorf("failed to push job to queue: %w", err)
	}
	return nil
}

func (q *RedisQueue) schedule(ctx context.Context, job *Job) error {
	jobBytes, err := q.save(ctx, job)
	if err != nil {
		return err
	}
	err = q.client.ZAdd(ctx, delayedKeyPrefix+job.Queue, &redis.Z{
		Score:  float64(job.RunAt.Unix()),
		Member: jobBytes,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to add job to delayed queue: %w", err)
	}
	return nil
}

// save writes the job hash and returns the serialized job
func (q *RedisQueue) save(ctx context.Context, job *Job) ([]byte, error) {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, jobKeyPrefix+job.ID, "data", jobBytes).Err(); err != nil {
		return nil, fmt.Errorf("failed to store job details: %w", err)
	}
	if err := q.client.Expire(ctx, jobKeyPrefix+job.ID, DefaultTTL).Err(); err != nil {
		log.Printf("Warning: failed to set TTL on job %s: %v", job.ID, err)
	}
	return jobBytes, nil
}

// Get loads a job's current state
func (q *RedisQueue) Get(ctx context.Context, jobID string) (*Job, error) {
	data, err := q.client.HGet(ctx, jobKeyPrefix+jobID, "data").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job details: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Dequeue pops the next ready job, waiting up to wait. It returns nil, nil
// when the queue stays empty.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string, wait time.Duration) (*Job, error) {
	q.moveReadyDelayedJobs(ctx, queueName)

	result, err := q.client.BRPop(ctx, wait, queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job from queue: %w", err)
	}
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected result format from BRPOP")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	job.Status = JobStatusProcessing
	job.UpdatedAt = q.now()
	if _, err := q.save(ctx, &job); err != nil {
		log.Printf("Warning: failed to update job status: %v", err)
	}
	return &job, nil
}

// moveReadyDelayedJobs moves due jobs to the ready list. ZRem decides which
// worker moves a job so a job is never pushed twice.
func (q *RedisQueue) moveReadyDelayedJobs(ctx context.Context, queueName string) {
	jobs, err := q.client.ZRangeByScore(ctx, delayedKeyPrefix+queueName, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", q.now().Unix()),
	}).Result()
	if err != nil {
		log.Printf("Error getting ready delayed jobs: %v", err)
		return
	}

	for _, jobStr := range jobs {
		removed, err := q.client.ZRem(ctx, delayedKeyPrefix+queueName, jobStr).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, queueName, jobStr).Err(); err != nil {
			log.Printf("Error moving delayed job to main queue: %v", err)
		}
	}
}

// Complete marks a job as completed
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = JobStatusCompleted
	job.UpdatedAt = q.now()
	_, err = q.save(ctx, job)
	return err
}

// Fail records jobErr and schedules a retry with exponential backoff.
// Jobs out of retries are parked on the dead list for the queue.
func (q *RedisQueue) Fail(ctx context.Context, jobID string, jobErr error) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := q.now()
	job.UpdatedAt = now
	if jobErr != nil {
		job.LastError = jobErr.Error()
	}

	if job.RetryCount < job.MaxRetries {
		job.Status = JobStatusPending
		job.RunAt = now.Add(calculateBackoff(job.RetryCount))
		job.RetryCount++
		return q.schedule(ctx, job)
	}

	job.Status = JobStatusFailed
	jobBytes, err := q.save(ctx, job)
	if err != nil {
		return err
	}
	log.Printf("Job %s on queue %s exhausted %d retries: %s", job.ID, job.Queue, job.MaxRetries, job.LastError)
	return q.client.LPush(ctx, deadKeyPrefix+job.Queue, jobBytes).Err()
}

// Stats reports queue depths
func (q *RedisQueue) Stats(ctx context.Context, queueName string) (QueueStats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, queueName)
	delayed := pipe.ZCard(ctx, delayedKeyPrefix+queueName)
	dead := pipe.LLen(ctx, deadKeyPrefix+queueName)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueStats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return QueueStats{
		Queue:   queueName,
		Waiting: int(ready.Val()),
		Delayed: int(delayed.Val()),
		Failed:  int(dead.Val()),
	}, nil
}

// QueueStats represents statistics for a queue
type QueueStats struct {
	Queue   string `json:"queue"`
	Waiting int    `json:"waiting"`
	Delayed int    `json:"delayed"`
	Failed  int    `json:"failed"`
}
