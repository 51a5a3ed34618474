package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/models"
	"instance-orchestrator/core/monitoring"
)

// Runner executes one job
type Runner interface {
	Run(ctx context.Context, job *models.Job) (*models.Result, error)
}

// Callbacks reports job outcomes to the caller
type Callbacks interface {
	Completed(ctx context.Context, job *models.Job, result *models.Result) error
	Failed(ctx context.Context, job *models.Job, runErr error, attempt int) error
}

// RunRecorder stores attempt history
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.JobRun) error
}

// Config tunes the consume loop
type Config struct {
	Concurrency     int
	ClaimWait       time.Duration
	PromoteInterval time.Duration
	// DefaultAttempts applies to envelopes enqueued without options
	DefaultAttempts int
	DefaultBackoff  time.Duration
}

// Scheduler consumes jobs from the queue and runs them
type Scheduler struct {
	queue     JobQueue
	runner    Runner
	callbacks Callbacks
	runs      RunRecorder
	metrics   *monitoring.Metrics
	locks     *InstanceLocks
	cfg       Config
	logger    *slog.Logger
}

// NewScheduler creates a new scheduler. runs and metrics may be nil.
func NewScheduler(
	queue JobQueue,
	runner Runner,
	callbacks Callbacks,
	runs RunRecorder,
	metrics *monitoring.Metrics,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = 5 * time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	if cfg.DefaultAttempts < 1 {
		cfg.DefaultAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		queue:     queue,
		runner:    runner,
		callbacks: callbacks,
		runs:      runs,
		metrics:   metrics,
		locks:     NewInstanceLocks(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Start runs the workers and the delayed-job promoter until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started", "concurrency", s.cfg.Concurrency)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.promoteLoop(ctx)
	}()

	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.consume(ctx, worker)
		}(i)
	}

	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.queue.PromoteDue(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("failed to promote delayed jobs", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("promoted delayed jobs", "count", n)
			}
		}
	}
}

func (s *Scheduler) consume(ctx context.Context, worker int) {
	logger := s.logger.With("worker", worker)
	for ctx.Err() == nil {
		d, err := s.queue.Next(ctx, s.cfg.ClaimWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to claim job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}
		s.process(ctx, d)
	}
}

// process runs one delivery and settles it in the queue
func (s *Scheduler) process(ctx context.Context, d *Delivery) {
	job := d.Envelope.Data
	attempt := d.Attempt()
	logger := s.logger.With("jobId", job.ID, "queueId", d.Envelope.ID, "action", string(job.Action), "attempt", attempt)

	unlock := s.locks.Lock(job.LockKey())
	defer unlock()

	logger.Info("job received")
	if s.metrics != nil {
		s.metrics.JobStarted()
	}
	started := time.Now()

	result, err := s.runner.Run(ctx, &job)

	// Interrupted by shutdown: leave the job active for recovery.
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Warn("job interrupted by shutdown")
		s.finish(job, "interrupted", started)
		return
	}

	// Settle and report even if shutdown starts now.
	settleCtx := context.WithoutCancel(ctx)

	if err == nil {
		s.finish(job, "succeeded", started)
		logger.Info("job completed", "instanceId", result.InstanceID, "publicIp", result.PublicIP)

		cbErr := s.callbacks.Completed(settleCtx, &job, result)
		s.callbackDelivered("completed", cbErr, logger)

		if err := s.queue.Complete(settleCtx, d); err != nil {
			logger.Error("failed to mark job complete", "error", err)
		}
		s.record(settleCtx, &job, attempt, models.RunSucceeded, started, result, nil)
		return
	}

	logger.Error("job failed", "error", err, "kind", apperrors.Kind(err))

	cbErr := s.callbacks.Failed(settleCtx, &job, err, attempt)
	s.callbackDelivered("failed", cbErr, logger)

	maxAttempts := d.Envelope.Opts.Attempts
	if maxAttempts < 1 {
		maxAttempts = s.cfg.DefaultAttempts
	}

	if apperrors.Retryable(err) && attempt < maxAttempts {
		backoffOpts := d.Envelope.Opts.Backoff
		if backoffOpts.Delay == 0 && backoffOpts.Type == "" {
			backoffOpts = DefaultJobOptions(maxAttempts, s.cfg.DefaultBackoff).Backoff
		}
		delay := RetryDelay(backoffOpts, attempt)
		if qerr := s.queue.Retry(settleCtx, d, delay, err.Error()); qerr != nil {
			logger.Error("failed to schedule retry", "error", qerr)
		}
		if s.metrics != nil {
			s.metrics.JobRetried()
		}
		s.finish(job, "retrying", started)
		logger.Info("job scheduled for retry", "delay", delay)
		s.record(settleCtx, &job, attempt, models.RunRetrying, started, result, err)
		return
	}

	if qerr := s.queue.Fail(settleCtx, d, err.Error()); qerr != nil {
		logger.Error("failed to mark job failed", "error", qerr)
	}
	s.finish(job, "failed", started)
	s.record(settleCtx, &job, attempt, models.RunFailed, started, result, err)
}

func (s *Scheduler) finish(job models.Job, outcome string, started time.Time) {
	if s.metrics != nil {
		s.metrics.JobFinished(string(job.Action), outcome, time.Since(started))
	}
}

func (s *Scheduler) callbackDelivered(kind string, err error, logger *slog.Logger) {
	if s.metrics != nil {
		s.metrics.CallbackDelivered(kind, err)
	}
	if err != nil {
		logger.Error("failed to deliver callback", "kind", kind, "error", err)
	}
}

func (s *Scheduler) record(ctx context.Context, job *models.Job, attempt int, outcome models.RunOutcome, started time.Time, result *models.Result, runErr error) {
	if s.runs == nil {
		return
	}

	run := &models.JobRun{
		JobID:      job.ID,
		Action:     job.Action,
		Attempt:    attempt,
		Outcome:    outcome,
		InstanceID: job.InstanceID,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if result != nil {
		if result.InstanceID != "" {
			run.InstanceID = result.InstanceID
		}
		run.PublicIP = result.PublicIP
		run.Logs = result.Logs
	}
	if runErr != nil {
		run.ErrorKind = apperrors.Kind(runErr)
		run.Error = runErr.Error()
	}

	if err := s.runs.RecordRun(ctx, run); err != nil {
		s.logger.Warn("failed to record run", "jobId", job.ID, "error", err)
	}
}
