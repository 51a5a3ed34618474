package resource_manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/executor"
	"instance-orchestrator/core/models"
	"instance-orchestrator/core/spec"
)

// DefaultIngressPorts are opened on the shared security group
var DefaultIngressPorts = []int32{22, 80, 8000, 8501, 8888}

// StackEngine converges a stack and returns its outputs
type StackEngine interface {
	Up(ctx context.Context, stack models.StackSpec) (*models.StackOutputs, error)
}

// EngineFactory builds a stack engine bound to a job's region and credentials
type EngineFactory func(ctx context.Context, job *models.Job) (StackEngine, error)

// ReadinessWaiter blocks until an address answers on the administrative channel
type ReadinessWaiter interface {
	WaitUntilReachable(ctx context.Context, address string, maxAttempts int, interval time.Duration) error
}

// PlaybookExecutor runs a configuration-management playbook
type PlaybookExecutor interface {
	Run(ctx context.Context, req executor.PlaybookRequest) (string, error)
}

// Settings are the provisioning inputs shared by every job
type Settings struct {
	StackEnv             string
	KeyPairName          string
	PublicKey            []byte
	SecurityGroupName    string
	SecurityGroupTagName string
	InstanceTagName      string
	IngressPorts         []int32
	ReadinessAttempts    int
	ReadinessInterval    time.Duration
}

// Provisioner runs the provisioning procedure for a job: stack up,
// environment push and playbook run
type Provisioner struct {
	engines   EngineFactory
	catalog   *spec.Catalog
	remote    executor.RemoteExec
	prober    ReadinessWaiter
	playbooks PlaybookExecutor
	settings  Settings
	logger    *slog.Logger
}

// NewProvisioner creates a new provisioner
func NewProvisioner(
	engines EngineFactory,
	catalog *spec.Catalog,
	remote executor.RemoteExec,
	prober ReadinessWaiter,
	playbooks PlaybookExecutor,
	settings Settings,
	logger *slog.Logger,
) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if len(settings.IngressPorts) == 0 {
		settings.IngressPorts = DefaultIngressPorts
	}
	if settings.SecurityGroupName == "" {
		settings.SecurityGroupName = "webserver-secgrp"
	}
	return &Provisioner{
		engines:   engines,
		catalog:   catalog,
		remote:    remote,
		prober:    prober,
		playbooks: playbooks,
		settings:  settings,
		logger:    logger,
	}
}

// Settings returns the provisioning settings in effect
func (p *Provisioner) Settings() Settings {
	return p.settings
}

// StackSpec builds the desired stack state for job
func (p *Provisioner) StackSpec(job *models.Job, target *models.Target) models.StackSpec {
	tmpl := p.catalog.Resolve(job.ModelRepositoryName)
	return models.StackSpec{
		Name:                 StackName(p.settings.StackEnv, job.ID),
		InstanceType:         job.InstanceName,
		ImageID:              tmpl.ImageID,
		RootVolumeGiB:        tmpl.RootVolumeGiB,
		KeyPairName:          p.settings.KeyPairName,
		PublicKey:            p.settings.PublicKey,
		SecurityGroupName:    p.settings.SecurityGroupName,
		SecurityGroupTagName: p.settings.SecurityGroupTagName,
		IngressPorts:         p.settings.IngressPorts,
		InstanceTagName:      p.settings.InstanceTagName,
		UserData:             StartupScript(job.EnvironmentVariables),
		Target:               target,
	}
}

// Apply provisions or re-converges the job's stack. When target is set the
// existing instance is adopted instead of launching a new one.
func (p *Provisioner) Apply(ctx context.Context, job *models.Job, target *models.Target) (*models.ProvisionOutputs, error) {
	stack := p.StackSpec(job, target)
	logger := p.logger.With("jobId", job.ID, "stack", stack.Name)

	engine, err := p.engines(ctx, job)
	if err != nil {
		return nil, apperrors.Provisioning("stack engine", err)
	}

	logger.Info("updating stack", "instanceType", stack.InstanceType, "image", stack.ImageID)
	out, err := engine.Up(ctx, stack)
	if err != nil {
		return nil, apperrors.Provisioning("stack up", err)
	}
	if out.PublicIP == "" {
		return nil, apperrors.Provisioning("stack up", fmt.Errorf("instance %s has no public address", out.InstanceID))
	}

	if target != nil && target.Reachable && target.PublicIP == out.PublicIP {
		logger.Debug("instance already reachable, skipping probe", "address", out.PublicIP)
	} else if err := p.prober.WaitUntilReachable(ctx, out.PublicIP, p.settings.ReadinessAttempts, p.settings.ReadinessInterval); err != nil {
		return nil, apperrors.Provisioning("wait for instance", err)
	}

	pushed, err := p.remote.Run(ctx, out.PublicIP, EnvironmentPushScript(job.EnvironmentVariables))
	if err != nil {
		return nil, apperrors.Provisioning("environment push", err)
	}
	if pushed.ExitCode != 0 {
		return nil, apperrors.Provisioning("environment push",
			fmt.Errorf("exit status %d: %s", pushed.ExitCode, pushed.Stderr))
	}
	logger.Info("environment pushed", "instanceId", out.InstanceID, "variables", len(job.EnvironmentVariables))

	configured, err := p.configure(ctx, job, out.PublicIP)
	if err != nil {
		return nil, err
	}

	return &models.ProvisionOutputs{
		InstanceID:     out.InstanceID,
		PublicIP:       out.PublicIP,
		PublicHostName: out.PublicHostName,
		CombinedOutput: pushed.Stdout + "\n" + configured,
	}, nil
}

// configure runs the playbook selected by the job's application repository.
// Jobs without a repository have nothing to configure.
func (p *Provisioner) configure(ctx context.Context, job *models.Job, address string) (string, error) {
	tmpl := p.catalog.Resolve(job.ModelRepositoryName)
	if tmpl.Playbook == "" {
		p.logger.Info("no playbook for job, skipping configuration", "jobId", job.ID)
		return "", nil
	}

	vars := map[string]string{"github_repo": job.GithubURL}
	for _, env := range job.EnvironmentVariables {
		vars[env.Key] = env.Value
	}

	output, err := p.playbooks.Run(ctx, executor.PlaybookRequest{
		Host:      address,
		Playbook:  tmpl.Playbook,
		ExtraVars: vars,
	})
	if err != nil {
		return "", apperrors.Provisioning("playbook", fmt.Errorf("%w\n%s", err, output))
	}
	return output, nil
}
