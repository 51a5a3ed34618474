package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/models"
	"instance-orchestrator/core/monitoring"
)

type retried struct {
	id     string
	delay  time.Duration
	reason string
}

// memQueue is an in-memory JobQueue
type memQueue struct {
	mu        sync.Mutex
	seq       int
	ready     chan *Delivery
	completed []string
	retries   []retried
	failed    []string
}

func newMemQueue() *memQueue {
	return &memQueue{ready: make(chan *Delivery, 16)}
}

func (q *memQueue) Enqueue(_ context.Context, job models.Job, opts JobOptions) (string, error) {
	q.mu.Lock()
	q.seq++
	id := strconv.Itoa(q.seq)
	q.mu.Unlock()
	q.ready <- &Delivery{Envelope: Envelope{ID: id, Name: string(job.Action), Data: job, Opts: opts}}
	return id, nil
}

func (q *memQueue) Next(ctx context.Context, wait time.Duration) (*Delivery, error) {
	select {
	case d := <-q.ready:
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

func (q *memQueue) Complete(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, d.Envelope.ID)
	return nil
}

func (q *memQueue) Retry(_ context.Context, d *Delivery, delay time.Duration, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retries = append(q.retries, retried{id: d.Envelope.ID, delay: delay, reason: reason})
	return nil
}

func (q *memQueue) Fail(_ context.Context, d *Delivery, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, d.Envelope.ID)
	return nil
}

func (q *memQueue) PromoteDue(context.Context) (int, error) { return 0, nil }

type funcRunner func(ctx context.Context, job *models.Job) (*models.Result, error)

func (f funcRunner) Run(ctx context.Context, job *models.Job) (*models.Result, error) {
	return f(ctx, job)
}

type callbackLog struct {
	mu        sync.Mutex
	completed []*models.Result
	failed    []int
	err       error
}

func (c *callbackLog) Completed(_ context.Context, _ *models.Job, result *models.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, result)
	return c.err
}

func (c *callbackLog) Failed(_ context.Context, _ *models.Job, _ error, attempt int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, attempt)
	return c.err
}

type runLog struct {
	mu   sync.Mutex
	runs []*models.JobRun
}

func (r *runLog) RecordRun(_ context.Context, run *models.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func delivery(attemptsMade int) *Delivery {
	return &Delivery{Envelope: Envelope{
		ID:           "7",
		AttemptsMade: attemptsMade,
		Opts:         DefaultJobOptions(2, 5*time.Second),
		Data: models.Job{
			Action:     models.ActionStart,
			ID:         "model-1",
			InstanceID: "i-123",
		},
	}}
}

func TestProcess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		attemptsMade  int
		runErr        error
		callbackErr   error
		wantCompleted int
		wantRetryWait time.Duration
		wantFailed    int
		wantOutcome   models.RunOutcome
		wantCallbacks []int
	}{
		{
			name:          "success",
			wantCompleted: 1,
			wantOutcome:   models.RunSucceeded,
		},
		{
			name:          "success with failed callback still completes",
			callbackErr:   apperrors.CallbackDelivery("http://x", errors.New("refused")),
			wantCompleted: 1,
			wantOutcome:   models.RunSucceeded,
		},
		{
			name:          "first failure is retried after backoff",
			runErr:        apperrors.Timeout("wait for running", "gave up"),
			wantRetryWait: 5 * time.Second,
			wantOutcome:   models.RunRetrying,
			wantCallbacks: []int{1},
		},
		{
			name:          "last attempt fails the job",
			attemptsMade:  1,
			runErr:        apperrors.Provider("start instance", errors.New("throttled")),
			wantFailed:    1,
			wantOutcome:   models.RunFailed,
			wantCallbacks: []int{2},
		},
		{
			name:          "precondition is never retried",
			runErr:        apperrors.Precondition("instance_id", "Instance ID is required"),
			wantFailed:    1,
			wantOutcome:   models.RunFailed,
			wantCallbacks: []int{1},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := newMemQueue()
			cb := &callbackLog{err: tt.callbackErr}
			runs := &runLog{}
			metrics := monitoring.NewMetrics()
			runner := funcRunner(func(context.Context, *models.Job) (*models.Result, error) {
				if tt.runErr != nil {
					return nil, tt.runErr
				}
				return &models.Result{InstanceID: "i-123", PublicIP: "1.2.3.4", Status: models.InstanceStatusRunning}, nil
			})
			s := NewScheduler(q, runner, cb, runs, metrics, Config{}, nil)

			s.process(context.Background(), delivery(tt.attemptsMade))

			assert.Len(t, q.completed, tt.wantCompleted)
			assert.Len(t, q.failed, tt.wantFailed)
			if tt.wantRetryWait > 0 {
				require.Len(t, q.retries, 1)
				assert.Equal(t, tt.wantRetryWait, q.retries[0].delay)
				assert.Equal(t, tt.runErr.Error(), q.retries[0].reason)
			} else {
				assert.Empty(t, q.retries)
			}

			if tt.runErr == nil {
				assert.Len(t, cb.completed, 1)
			} else {
				assert.Equal(t, tt.wantCallbacks, cb.failed)
			}

			require.Len(t, runs.runs, 1)
			assert.Equal(t, tt.wantOutcome, runs.runs[0].Outcome)
			assert.Equal(t, tt.attemptsMade+1, runs.runs[0].Attempt)
			assert.Equal(t, apperrors.Kind(tt.runErr), kindOrNone(runs.runs[0].ErrorKind))
			assert.Zero(t, s.locks.Held())
		})
	}
}

func kindOrNone(kind string) string {
	if kind == "" {
		return "none"
	}
	return kind
}

func TestProcess_ShutdownLeavesJobActive(t *testing.T) {
	t.Parallel()

	q := newMemQueue()
	cb := &callbackLog{}
	ctx, cancel := context.WithCancel(context.Background())
	runner := funcRunner(func(ctx context.Context, _ *models.Job) (*models.Result, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewScheduler(q, runner, cb, nil, nil, Config{}, nil)

	s.process(ctx, delivery(0))

	assert.Empty(t, q.completed)
	assert.Empty(t, q.retries)
	assert.Empty(t, q.failed)
	assert.Empty(t, cb.failed)
}

func TestProcess_ShutdownDuringProvisioningLeavesJobActive(t *testing.T) {
	t.Parallel()

	q := newMemQueue()
	cb := &callbackLog{}
	runs := &runLog{}
	ctx, cancel := context.WithCancel(context.Background())
	runner := funcRunner(func(ctx context.Context, _ *models.Job) (*models.Result, error) {
		cancel()
		<-ctx.Done()
		killed := fmt.Errorf("playbook model interrupted on 1.2.3.4: %w", ctx.Err())
		return &models.Result{Logs: []string{"Re-applying configuration"}}, apperrors.Provisioning("playbook", killed)
	})
	s := NewScheduler(q, runner, cb, runs, nil, Config{}, nil)

	s.process(ctx, delivery(0))

	assert.Empty(t, q.completed)
	assert.Empty(t, q.retries)
	assert.Empty(t, q.failed)
	assert.Empty(t, cb.failed)
	assert.Empty(t, runs.runs)
}

func TestProcess_FailedRunKeepsTrail(t *testing.T) {
	t.Parallel()

	q := newMemQueue()
	runs := &runLog{}
	runner := funcRunner(func(context.Context, *models.Job) (*models.Result, error) {
		return &models.Result{Logs: []string{"Stopping instance i-123", "stop failed"}},
			apperrors.StateTransition("i-123", "terminated", "stop")
	})
	s := NewScheduler(q, runner, &callbackLog{}, runs, nil, Config{}, nil)

	s.process(context.Background(), delivery(1))

	require.Len(t, runs.runs, 1)
	assert.Equal(t, models.RunFailed, runs.runs[0].Outcome)
	assert.Equal(t, "i-123", runs.runs[0].InstanceID)
	assert.Equal(t, []string{"Stopping instance i-123", "stop failed"}, runs.runs[0].Logs)
}

func TestStart_SerializesSameInstance(t *testing.T) {
	t.Parallel()

	q := newMemQueue()
	var running, maxRunning, done int32
	runner := funcRunner(func(context.Context, *models.Job) (*models.Result, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&done, 1)
		return &models.Result{}, nil
	})
	s := NewScheduler(q, runner, &callbackLog{}, nil, nil, Config{
		Concurrency:     3,
		ClaimWait:       10 * time.Millisecond,
		PromoteInterval: 10 * time.Millisecond,
	}, nil)

	job := models.Job{Action: models.ActionRestart, ID: "model-1", InstanceID: "i-123"}
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(context.Background(), job, DefaultJobOptions(2, time.Second))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(finished)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&done) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-finished

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	assert.Len(t, q.completed, 3)
}

func TestInstanceLocks(t *testing.T) {
	t.Parallel()

	locks := NewInstanceLocks()
	unlockA := locks.Lock("instance:i-1")
	unlockB := locks.Lock("instance:i-2")
	assert.Equal(t, 2, locks.Held())

	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("instance:i-1")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("lock on a held key must block")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	assert.Eventually(t, func() bool { return locks.Held() == 0 }, time.Second, time.Millisecond)
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    BackoffOptions
		attempt int
		want    time.Duration
	}{
		{name: "exponential first", opts: BackoffOptions{Type: "exponential", Delay: 5000}, attempt: 1, want: 5 * time.Second},
		{name: "exponential third", opts: BackoffOptions{Type: "exponential", Delay: 5000}, attempt: 3, want: 20 * time.Second},
		{name: "capped", opts: BackoffOptions{Type: "exponential", Delay: 5000}, attempt: 20, want: maxBackoff},
		{name: "fixed", opts: BackoffOptions{Type: "fixed", Delay: 1500}, attempt: 4, want: 1500 * time.Millisecond},
		{name: "no delay", opts: BackoffOptions{Type: "exponential"}, attempt: 2, want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RetryDelay(tt.opts, tt.attempt))
		})
	}
}
