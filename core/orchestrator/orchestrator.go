// Package orchestrator drives instance lifecycle actions: deploy, start,
// stop and restart.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/executor"
	"instance-orchestrator/core/models"
	"instance-orchestrator/core/monitoring"
	"instance-orchestrator/core/resource_manager"
)

// Cloud is the cloud control surface for one job's region and credentials
type Cloud interface {
	StartInstance(ctx context.Context, instanceID string) error
	StopInstance(ctx context.Context, instanceID string) error
	DescribeInstance(ctx context.Context, instanceID string) (*models.InstanceState, error)
}

// priceSource is implemented by clouds that can quote on-demand prices
type priceSource interface {
	OnDemandPrice(ctx context.Context, instanceType string) (float64, error)
}

// CloudFactory builds a Cloud bound to a job's region and credentials
type CloudFactory func(ctx context.Context, job *models.Job) (Cloud, error)

// Provisioner re-runs or creates a job's stack
type Provisioner interface {
	Apply(ctx context.Context, job *models.Job, target *models.Target) (*models.ProvisionOutputs, error)
}

// Prober waits for an instance to answer on the administrative channel
type Prober interface {
	WaitUntilReachable(ctx context.Context, address string, maxAttempts int, interval time.Duration) error
}

// Timings are the waits and bounds of the lifecycle state machine
type Timings struct {
	PollInterval      time.Duration
	PollTimeout       time.Duration
	RestartSettle     time.Duration
	ReadinessAttempts int
	ReadinessInterval time.Duration
	ReadySettle       time.Duration
}

// DefaultTimings returns the production timings
func DefaultTimings() Timings {
	return Timings{
		PollInterval:      5 * time.Second,
		PollTimeout:       10 * time.Minute,
		RestartSettle:     5 * time.Second,
		ReadinessAttempts: 20,
		ReadinessInterval: 15 * time.Second,
		ReadySettle:       30 * time.Second,
	}
}

// Options are the optional collaborators of an Orchestrator
type Options struct {
	// Remote reads the environment back after a restart
	Remote  executor.RemoteExec
	Costs   *monitoring.CostTracker
	Metrics *monitoring.Metrics
	Sink    *monitoring.LogSink
	Logger  *slog.Logger
}

// Orchestrator executes one job's lifecycle action
type Orchestrator struct {
	clouds      CloudFactory
	provisioner Provisioner
	prober      Prober
	timings     Timings
	opts        Options
	logger      *slog.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(clouds CloudFactory, provisioner Provisioner, prober Prober, timings Timings, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		clouds:      clouds,
		provisioner: provisioner,
		prober:      prober,
		timings:     timings,
		opts:        opts,
		logger:      logger,
	}
}

// Run validates the job and executes its action. Preconditions are checked
// before any network call. A failed action still returns a result carrying
// the log trail alongside the error.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) (*models.Result, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With("jobId", job.ID, "action", string(job.Action))
	trail := monitoring.NewJobMonitor(job.ID, logger, o.opts.Sink)

	var (
		result *models.Result
		err    error
	)
	switch job.Action {
	case models.ActionDeploy:
		result, err = o.deploy(ctx, job, trail)
	case models.ActionStart:
		result, err = o.start(ctx, job, trail)
	case models.ActionStop:
		result, err = o.stop(ctx, job, trail)
	case models.ActionRestart:
		result, err = o.restart(ctx, job, trail)
	}
	if err != nil {
		trail.Logf(ctx, "%s failed: %v", job.Action, err)
		return &models.Result{
			InstanceID:   job.InstanceID,
			SessionToken: job.SessionToken,
			ModelID:      job.ID,
			Logs:         trail.Lines(),
		}, err
	}

	result.Logs = trail.Lines()
	return result, nil
}

func (o *Orchestrator) deploy(ctx context.Context, job *models.Job, trail *monitoring.JobMonitor) (*models.Result, error) {
	stack := resource_manager.StackName(o.stackEnv(), job.ID)
	trail.Logf(ctx, "Deploying %s instance in %s as stack %s", job.InstanceName, job.Region, stack)
	o.notePrice(ctx, job, nil, trail)

	out, err := o.provisioner.Apply(ctx, job, nil)
	if err != nil {
		return nil, err
	}

	trail.Logf(ctx, "Instance %s deployed at %s", out.InstanceID, out.PublicIP)
	return provisionedResult(job, out), nil
}

func (o *Orchestrator) start(ctx context.Context, job *models.Job, trail *monitoring.JobMonitor) (*models.Result, error) {
	cloud, err := o.cloud(ctx, job)
	if err != nil {
		return nil, err
	}

	state, err := o.startAndWait(ctx, cloud, job.InstanceID, trail)
	if err != nil {
		return nil, err
	}
	o.notePrice(ctx, job, cloud, trail)

	trail.Logf(ctx, "Re-applying configuration to %s", job.InstanceID)
	out, err := o.provisioner.Apply(ctx, job, &models.Target{InstanceID: state.InstanceID, PublicIP: state.PublicIP})
	if err != nil {
		return nil, err
	}
	return provisionedResult(job, out), nil
}

func (o *Orchestrator) stop(ctx context.Context, job *models.Job, trail *monitoring.JobMonitor) (*models.Result, error) {
	cloud, err := o.cloud(ctx, job)
	if err != nil {
		return nil, err
	}

	if _, err := o.stopAndWait(ctx, cloud, job.InstanceID, trail); err != nil {
		return nil, err
	}

	return &models.Result{
		InstanceID:   job.InstanceID,
		Status:       models.InstanceStatusStopped,
		SessionToken: job.SessionToken,
		ModelID:      job.ID,
	}, nil
}

func (o *Orchestrator) restart(ctx context.Context, job *models.Job, trail *monitoring.JobMonitor) (*models.Result, error) {
	cloud, err := o.cloud(ctx, job)
	if err != nil {
		return nil, err
	}

	if _, err := o.stopAndWait(ctx, cloud, job.InstanceID, trail); err != nil {
		return nil, err
	}

	trail.Logf(ctx, "Waiting %s before starting %s", o.timings.RestartSettle, job.InstanceID)
	if err := sleep(ctx, o.timings.RestartSettle); err != nil {
		return nil, err
	}

	state, err := o.startAndWait(ctx, cloud, job.InstanceID, trail)
	if err != nil {
		return nil, err
	}

	trail.Logf(ctx, "Waiting for %s to accept connections", state.PublicIP)
	if err := o.prober.WaitUntilReachable(ctx, state.PublicIP, o.timings.ReadinessAttempts, o.timings.ReadinessInterval); err != nil {
		return nil, err
	}

	trail.Logf(ctx, "Instance reachable, waiting %s for services to settle", o.timings.ReadySettle)
	if err := sleep(ctx, o.timings.ReadySettle); err != nil {
		return nil, err
	}

	trail.Logf(ctx, "Re-applying configuration with %d environment variables", len(job.EnvironmentVariables))
	out, err := o.provisioner.Apply(ctx, job, &models.Target{InstanceID: state.InstanceID, PublicIP: state.PublicIP, Reachable: true})
	if err != nil {
		return nil, err
	}

	o.verifyEnvironment(ctx, job, out.PublicIP, trail)
	return provisionedResult(job, out), nil
}

func (o *Orchestrator) startAndWait(ctx context.Context, cloud Cloud, instanceID string, trail *monitoring.JobMonitor) (*models.InstanceState, error) {
	trail.Logf(ctx, "Starting instance %s", instanceID)
	if err := cloud.StartInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	state, err := pollUntil(ctx, "wait for running", o.timings.PollInterval, o.timings.PollTimeout,
		func(ctx context.Context) (*models.InstanceState, bool, error) {
			state, err := cloud.DescribeInstance(ctx, instanceID)
			if err != nil {
				return nil, false, err
			}
			o.observe("wait_running", state.Status)

			switch state.Status {
			case models.InstanceStatusRunning:
				return state, state.PublicIP != "", nil
			case models.InstanceStatusPending, models.InstanceStatusStopped:
				return state, false, nil
			default:
				return state, false, apperrors.StateTransition(instanceID, string(state.Status), "start")
			}
		})
	if err != nil {
		return nil, err
	}

	trail.Logf(ctx, "Instance %s is running at %s", instanceID, state.PublicIP)
	return state, nil
}

func (o *Orchestrator) stopAndWait(ctx context.Context, cloud Cloud, instanceID string, trail *monitoring.JobMonitor) (*models.InstanceState, error) {
	trail.Logf(ctx, "Stopping instance %s", instanceID)
	if err := cloud.StopInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	state, err := pollUntil(ctx, "wait for stopped", o.timings.PollInterval, o.timings.PollTimeout,
		func(ctx context.Context) (*models.InstanceState, bool, error) {
			state, err := cloud.DescribeInstance(ctx, instanceID)
			if err != nil {
				return nil, false, err
			}
			o.observe("wait_stopped", state.Status)

			switch state.Status {
			case models.InstanceStatusStopped:
				return state, true, nil
			case models.InstanceStatusStopping, models.InstanceStatusRunning:
				return state, false, nil
			default:
				return state, false, apperrors.StateTransition(instanceID, string(state.Status), "stop")
			}
		})
	if err != nil {
		return nil, err
	}

	trail.Logf(ctx, "Instance %s is stopped", instanceID)
	return state, nil
}

// verifyEnvironment reads the environment file back and records whether
// every job variable is present. Failures are only logged.
func (o *Orchestrator) verifyEnvironment(ctx context.Context, job *models.Job, address string, trail *monitoring.JobMonitor) {
	if o.opts.Remote == nil {
		return
	}

	res, err := o.opts.Remote.Run(ctx, address, resource_manager.ReadEnvironmentCommand)
	if err != nil || res.ExitCode != 0 {
		o.logger.Warn("failed to read environment back", "jobId", job.ID, "address", address, "error", err)
		return
	}

	present := make(map[string]string)
	for _, v := range resource_manager.ParseEnvironment(res.Stdout) {
		present[v.Key] = v.Value
	}
	var missing []string
	for _, v := range job.EnvironmentVariables {
		if got, ok := present[v.Key]; !ok || got != v.Value {
			missing = append(missing, v.Key)
		}
	}

	if len(missing) > 0 {
		trail.Logf(ctx, "Environment verification failed, missing or changed: %v", missing)
		return
	}
	trail.Logf(ctx, "Environment verified, %d variables present", len(job.EnvironmentVariables))
}

// notePrice adds the on-demand price of the job's instance type to the
// trail. Lookups are best-effort.
func (o *Orchestrator) notePrice(ctx context.Context, job *models.Job, cloud Cloud, trail *monitoring.JobMonitor) {
	if o.opts.Costs == nil || job.InstanceName == "" {
		return
	}
	if cloud == nil {
		var err error
		if cloud, err = o.clouds(ctx, job); err != nil {
			return
		}
	}
	prices, ok := cloud.(priceSource)
	if !ok {
		return
	}

	usd, err := o.opts.Costs.HourlyPrice(ctx, job.Region, job.InstanceName, func(ctx context.Context) (float64, error) {
		return prices.OnDemandPrice(ctx, job.InstanceName)
	})
	if err != nil {
		o.logger.Debug("price lookup failed", "instanceType", job.InstanceName, "error", err)
		return
	}
	trail.Logf(ctx, "On-demand price for %s in %s: $%.4f/hour", job.InstanceName, job.Region, usd)
}

func (o *Orchestrator) cloud(ctx context.Context, job *models.Job) (Cloud, error) {
	cloud, err := o.clouds(ctx, job)
	if err != nil {
		return nil, apperrors.Provider("cloud client", err)
	}
	return cloud, nil
}

func (o *Orchestrator) observe(phase string, status models.InstanceStatus) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.StatusObserved(phase, string(status))
	}
}

func (o *Orchestrator) stackEnv() string {
	if s, ok := o.provisioner.(interface {
		Settings() resource_manager.Settings
	}); ok {
		return s.Settings().StackEnv
	}
	return ""
}

func provisionedResult(job *models.Job, out *models.ProvisionOutputs) *models.Result {
	return &models.Result{
		InstanceID:     out.InstanceID,
		PublicIP:       out.PublicIP,
		PublicHostName: out.PublicHostName,
		Status:         models.InstanceStatusRunning,
		SessionToken:   job.SessionToken,
		Output:         out.CombinedOutput,
		ModelID:        job.ID,
	}
}

// String is used in log lines
func (t Timings) String() string {
	return fmt.Sprintf("poll=%s timeout=%s settle=%s readiness=%dx%s ready=%s",
		t.PollInterval, t.PollTimeout, t.RestartSettle, t.ReadinessAttempts, t.ReadinessInterval, t.ReadySettle)
}
