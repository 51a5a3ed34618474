package resource_manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"instance-orchestrator/core/apperrors"
	"instance-orchestrator/core/executor"
	"instance-orchestrator/core/models"
	"instance-orchestrator/core/spec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	specs []models.StackSpec
	out   *models.StackOutputs
	err   error
}

func (f *fakeEngine) Up(_ context.Context, stack models.StackSpec) (*models.StackOutputs, error) {
	f.specs = append(f.specs, stack)
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

// fakeRemote records scripts and replays the last pushed environment file
type fakeRemote struct {
	mu       sync.Mutex
	env      string
	commands []string
	exitCode int
	err      error
}

func (f *fakeRemote) Run(_ context.Context, _ string, command string) (*executor.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.err != nil {
		return nil, f.err
	}
	if f.exitCode != 0 {
		return &executor.ExecResult{ExitCode: f.exitCode, Stderr: "permission denied"}, nil
	}
	if strings.HasPrefix(command, "sudo tee") {
		lines := strings.Split(command, "\n")
		f.env = strings.Join(lines[1:len(lines)-3], "\n") + "\n"
	}
	return &executor.ExecResult{Stdout: f.env}, nil
}

type fakeProber struct {
	calls []string
	err   error
}

func (f *fakeProber) WaitUntilReachable(_ context.Context, address string, _ int, _ time.Duration) error {
	f.calls = append(f.calls, address)
	return f.err
}

type fakePlaybooks struct {
	requests []executor.PlaybookRequest
	output   string
	err      error
}

func (f *fakePlaybooks) Run(_ context.Context, req executor.PlaybookRequest) (string, error) {
	f.requests = append(f.requests, req)
	return f.output, f.err
}

type harness struct {
	engine    *fakeEngine
	remote    *fakeRemote
	prober    *fakeProber
	playbooks *fakePlaybooks
	p         *Provisioner
}

func newHarness() *harness {
	h := &harness{
		engine:    &fakeEngine{out: &models.StackOutputs{InstanceID: "i-1", PublicIP: "1.2.3.4", PublicHostName: "host"}},
		remote:    &fakeRemote{},
		prober:    &fakeProber{},
		playbooks: &fakePlaybooks{output: "PLAY RECAP ok=3"},
	}
	engines := func(context.Context, *models.Job) (StackEngine, error) { return h.engine, nil }
	h.p = NewProvisioner(engines, spec.DefaultCatalog("slashml/app-deployment"), h.remote, h.prober, h.playbooks, Settings{
		StackEnv:             "dev",
		KeyPairName:          "aws-randomcreated-kp",
		SecurityGroupTagName: "slashml-stuff",
		InstanceTagName:      "slashml-stuff",
		ReadinessAttempts:    20,
		ReadinessInterval:    time.Millisecond,
	}, nil)
	return h
}

func deployJob() *models.Job {
	return &models.Job{
		Action:              models.ActionDeploy,
		ID:                  "model-1",
		Region:              "eu-west-3",
		AccessKey:           "a",
		SecretKey:           "s",
		InstanceName:        "t2.micro",
		GithubURL:           "https://github.com/org/repo",
		ModelRepositoryName: "org/model",
		EnvironmentVariables: []models.EnvVar{
			{Key: "DB_HOST", Value: "localhost"},
			{Key: "GREETING", Value: "hello world"},
		},
	}
}

func TestApply_Deploy(t *testing.T) {
	t.Parallel()

	h := newHarness()
	out, err := h.p.Apply(context.Background(), deployJob(), nil)
	require.NoError(t, err)

	assert.Equal(t, "i-1", out.InstanceID)
	assert.Equal(t, "1.2.3.4", out.PublicIP)
	assert.Equal(t, "host", out.PublicHostName)

	require.Len(t, h.engine.specs, 1)
	stack := h.engine.specs[0]
	assert.Equal(t, "dev-5-model-1", stack.Name)
	assert.Equal(t, spec.DefaultImageID, stack.ImageID)
	assert.Equal(t, int32(128), stack.RootVolumeGiB)
	assert.Equal(t, "webserver-secgrp", stack.SecurityGroupName)
	assert.Equal(t, []int32{22, 80, 8000, 8501, 8888}, stack.IngressPorts)
	assert.Contains(t, stack.UserData, "DB_HOST=localhost\n")
	assert.Nil(t, stack.Target)

	assert.Equal(t, []string{"1.2.3.4"}, h.prober.calls)

	require.Len(t, h.playbooks.requests, 1)
	req := h.playbooks.requests[0]
	assert.Equal(t, "org/model", req.Playbook)
	assert.Equal(t, "https://github.com/org/repo", req.ExtraVars["github_repo"])
	assert.Equal(t, "hello world", req.ExtraVars["GREETING"])

	parts := strings.SplitN(out.CombinedOutput, "\n\n", 2)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "DB_HOST=localhost")
	assert.Equal(t, "PLAY RECAP ok=3", parts[1])
}

func TestApply_AppRepositoryUsesAppImage(t *testing.T) {
	t.Parallel()

	h := newHarness()
	job := deployJob()
	job.ModelRepositoryName = "slashml/app-deployment"

	_, err := h.p.Apply(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, spec.AppImageID, h.engine.specs[0].ImageID)
	assert.Equal(t, "slashml/app-deployment", h.playbooks.requests[0].Playbook)
}

func TestApply_TargetAdoptedAndNoRepositorySkipsPlaybook(t *testing.T) {
	t.Parallel()

	h := newHarness()
	job := deployJob()
	job.ModelRepositoryName = ""

	out, err := h.p.Apply(context.Background(), job, &models.Target{InstanceID: "i-1", PublicIP: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, "i-1", h.engine.specs[0].Target.InstanceID)
	assert.Empty(t, h.playbooks.requests)
	assert.True(t, strings.HasSuffix(out.CombinedOutput, "\n"))
}

func TestApply_ReachableTargetSkipsProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     *models.Target
		wantProbes int
	}{
		{name: "new instance", wantProbes: 1},
		{name: "adopted instance", target: &models.Target{InstanceID: "i-1", PublicIP: "1.2.3.4"}, wantProbes: 1},
		{name: "already reachable", target: &models.Target{InstanceID: "i-1", PublicIP: "1.2.3.4", Reachable: true}},
		{name: "address changed", target: &models.Target{InstanceID: "i-1", PublicIP: "5.6.7.8", Reachable: true}, wantProbes: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness()
			_, err := h.p.Apply(context.Background(), deployJob(), tt.target)
			require.NoError(t, err)
			assert.Len(t, h.prober.calls, tt.wantProbes)
		})
	}
}

func TestApply_EnvironmentRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness()
	job := deployJob()
	_, err := h.p.Apply(context.Background(), job, nil)
	require.NoError(t, err)

	res, err := h.remote.Run(context.Background(), "1.2.3.4", ReadEnvironmentCommand)
	require.NoError(t, err)
	assert.Equal(t, job.EnvironmentVariables, ParseEnvironment(res.Stdout))
}

func TestApply_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"stack up fails", func(h *harness) { h.engine.err = errors.New("quota exceeded") }},
		{"no public address", func(h *harness) { h.engine.out = &models.StackOutputs{InstanceID: "i-1"} }},
		{"never reachable", func(h *harness) { h.prober.err = apperrors.Timeout("readiness", "gave up") }},
		{"push transport error", func(h *harness) { h.remote.err = errors.New("broken pipe") }},
		{"push non-zero exit", func(h *harness) { h.remote.exitCode = 1 }},
		{"playbook fails", func(h *harness) { h.playbooks.err = errors.New("exit status 2") }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			tt.setup(h)

			_, err := h.p.Apply(context.Background(), deployJob(), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrProvisioning)
			assert.Equal(t, "provisioning", apperrors.Kind(err))
		})
	}
}

func TestApply_EngineFactoryError(t *testing.T) {
	t.Parallel()

	engines := func(context.Context, *models.Job) (StackEngine, error) { return nil, errors.New("bad credentials") }
	p := NewProvisioner(engines, spec.DefaultCatalog(""), &fakeRemote{}, &fakeProber{}, &fakePlaybooks{}, Settings{}, nil)

	_, err := p.Apply(context.Background(), deployJob(), nil)
	assert.ErrorIs(t, err, apperrors.ErrProvisioning)
}
