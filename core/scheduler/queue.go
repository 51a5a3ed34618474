package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"instance-orchestrator/core/models"
)

// BackoffOptions configures the delay between attempts
type BackoffOptions struct {
	Type  string `json:"type"`
	Delay int64  `json:"delay"` // milliseconds
}

// JobOptions are the per-job retry options stored with the envelope
type JobOptions struct {
	Attempts int            `json:"attempts"`
	Backoff  BackoffOptions `json:"backoff"`
}

// DefaultJobOptions returns two attempts with exponential backoff from delay
func DefaultJobOptions(attempts int, delay time.Duration) JobOptions {
	return JobOptions{
		Attempts: attempts,
		Backoff:  BackoffOptions{Type: "exponential", Delay: delay.Milliseconds()},
	}
}

// Envelope is the queued form of a job
type Envelope struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Data         models.Job `json:"data"`
	AttemptsMade int        `json:"attemptsMade"`
	Opts         JobOptions `json:"opts"`
	EnqueuedAt   int64      `json:"timestamp"`
	FailedReason string     `json:"failedReason,omitempty"`
}

// Delivery is an envelope claimed by a consumer
type Delivery struct {
	Envelope Envelope
	raw      string
}

// Attempt is the 1-based number of the attempt in progress
func (d *Delivery) Attempt() int {
	return d.Envelope.AttemptsMade + 1
}

// JobQueue is the queue surface the consumer needs
type JobQueue interface {
	Enqueue(ctx context.Context, job models.Job, opts JobOptions) (string, error)
	Next(ctx context.Context, wait time.Duration) (*Delivery, error)
	Complete(ctx context.Context, d *Delivery) error
	Retry(ctx context.Context, d *Delivery, delay time.Duration, reason string) error
	Fail(ctx context.Context, d *Delivery, reason string) error
	PromoteDue(ctx context.Context) (int, error)
}

// RedisQueue is a reliable job queue on Redis lists. Claimed jobs sit in
// an active list until completed, retried or failed. Delayed retries wait
// in a sorted set scored by due time.
type RedisQueue struct {
	rdb  *redis.Client
	name string
	now  func() time.Time
}

// NewRedisQueue connects to the queue named name at url. rediss:// URLs
// use TLS.
func NewRedisQueue(ctx context.Context, url, name string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisQueueFromClient(rdb, name), nil
}

// NewRedisQueueFromClient wraps an existing client
func NewRedisQueueFromClient(rdb *redis.Client, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name, now: time.Now}
}

// Close closes the underlying client
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func (q *RedisQueue) key(suffix string) string {
	return "orchestrator:" + q.name + ":" + suffix
}

// Enqueue appends a job to the wait list and returns its queue id
func (q *RedisQueue) Enqueue(ctx context.Context, job models.Job, opts JobOptions) (string, error) {
	seq, err := q.rdb.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return "", fmt.Errorf("failed to allocate job id: %w", err)
	}
	env := Envelope{
		ID:         strconv.FormatInt(seq, 10),
		Name:       string(job.Action),
		Data:       job,
		Opts:       opts,
		EnqueuedAt: q.now().UnixMilli(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.key("wait"), raw).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return env.ID, nil
}

// Next blocks up to wait for a job and moves it to the active list.
// It returns nil, nil when no job arrived in time.
func (q *RedisQueue) Next(ctx context.Context, wait time.Duration) (*Delivery, error) {
	raw, err := q.rdb.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Park undecodable payloads so they do not block the queue.
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.key("active"), 1, raw)
		pipe.LPush(ctx, q.key("failed"), raw)
		if _, perr := pipe.Exec(ctx); perr != nil {
			return nil, fmt.Errorf("failed to park malformed job: %w", perr)
		}
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &Delivery{Envelope: env, raw: raw}, nil
}

// Complete removes a finished job from the active list
func (q *RedisQueue) Complete(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, q.key("active"), 1, d.raw).Err(); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", d.Envelope.ID, err)
	}
	return nil
}

// Retry schedules another attempt after delay
func (q *RedisQueue) Retry(ctx context.Context, d *Delivery, delay time.Duration, reason string) error {
	env := d.Envelope
	env.AttemptsMade++
	env.FailedReason = reason
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	due := q.now().Add(delay).UnixMilli()
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, d.raw)
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(due), Member: raw})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry of job %s: %w", env.ID, err)
	}
	return nil
}

// Fail moves a job to the failed list
func (q *RedisQueue) Fail(ctx context.Context, d *Delivery, reason string) error {
	env := d.Envelope
	env.AttemptsMade++
	env.FailedReason = reason
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key("active"), 1, d.raw)
	pipe.LPush(ctx, q.key("failed"), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to fail job %s: %w", env.ID, err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose time has come back to the wait list
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	until := strconv.FormatInt(q.now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{Min: "-inf", Max: until}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	promoted := 0
	for _, raw := range due {
		// Only the consumer that wins the ZREM re-queues the job.
		removed, err := q.rdb.ZRem(ctx, q.key("delayed"), raw).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to promote job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.RPush(ctx, q.key("wait"), raw).Err(); err != nil {
			return promoted, fmt.Errorf("failed to promote job: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// Recover moves jobs left in the active list by a crashed worker back to
// the wait list. Call it only when no other worker is consuming.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		_, err := q.rdb.LMove(ctx, q.key("active"), q.key("wait"), "LEFT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to recover active jobs: %w", err)
		}
		recovered++
	}
}

// Counts reports the length of each list
func (q *RedisQueue) Counts(ctx context.Context) (map[string]int64, error) {
	pipe := q.rdb.Pipeline()
	wait := pipe.LLen(ctx, q.key("wait"))
	active := pipe.LLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	failed := pipe.LLen(ctx, q.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue counts: %w", err)
	}
	return map[string]int64{
		"wait":    wait.Val(),
		"active":  active.Val(),
		"delayed": delayed.Val(),
		"failed":  failed.Val(),
	}, nil
}
