package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"instance-orchestrator/core/apperrors"
)

// Action is the lifecycle action a job asks for
type Action string

const (
	ActionDeploy  Action = "deploy"
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

// Valid reports whether the action is one of the four supported kinds
func (a Action) Valid() bool {
	switch a {
	case ActionDeploy, ActionStart, ActionStop, ActionRestart:
		return true
	}
	return false
}

// RequiresInstance reports whether the action targets an existing instance
func (a Action) RequiresInstance() bool {
	return a == ActionStart || a == ActionStop || a == ActionRestart
}

// EnvVar is a single environment variable seeded into an instance
type EnvVar struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// String renders the variable as KEY=value
func (e EnvVar) String() string {
	return e.Key + "=" + e.Value
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SessionToken is the opaque caller token passed through to callbacks.
// On the wire it is either {"value": "..."} or a bare string.
type SessionToken struct {
	Value string `json:"value"`
}

// MarshalJSON always emits the object form
func (t SessionToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value string `json:"value"`
	}{Value: t.Value})
}

// UnmarshalJSON accepts both the object and the bare string form
func (t *SessionToken) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Value = s
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid sessionToken: %w", err)
	}
	t.Value = obj.Value
	return nil
}

// Job is one unit of orchestration work, read-only once dequeued
type Job struct {
	Action               Action       `json:"action"`
	ID                   string       `json:"id"`
	Region               string       `json:"region"`
	AccessKey            string       `json:"accessKey"`
	SecretKey            string       `json:"secretKey"`
	InstanceProvider     string       `json:"instance_provider,omitempty"`
	InstanceName         string       `json:"instance_name"` // instance type, e.g. "t2.micro"
	InstanceID           string       `json:"instance_id,omitempty"`
	GithubURL            string       `json:"github_url,omitempty"`
	ModelRepositoryName  string       `json:"model_repository_name,omitempty"`
	SessionToken         SessionToken `json:"sessionToken"`
	EnvironmentVariables []EnvVar     `json:"environmentVariables,omitempty"`
}

// Validate checks the job's preconditions. It never performs I/O.
func (j *Job) Validate() error {
	if !j.Action.Valid() {
		return apperrors.Precondition("action", fmt.Sprintf("unsupported action %q", j.Action))
	}
	if j.ID == "" {
		return apperrors.Precondition("id", "job id is required")
	}
	if j.Region == "" {
		return apperrors.Precondition("region", "region is required")
	}
	if j.AccessKey == "" || j.SecretKey == "" {
		return apperrors.Precondition("accessKey", "credential pair is required")
	}
	if j.Action.RequiresInstance() && j.InstanceID == "" {
		return apperrors.Precondition("instance_id", "Instance ID is required")
	}
	if j.Action == ActionDeploy && j.InstanceName == "" {
		return apperrors.Precondition("instance_name", "instance_name is required for deploy")
	}
	for _, env := range j.EnvironmentVariables {
		if !envKeyPattern.MatchString(env.Key) {
			return apperrors.Precondition("environmentVariables", fmt.Sprintf("invalid environment variable name %q", env.Key))
		}
		if strings.ContainsAny(env.Value, "\r\n") {
			return apperrors.Precondition("environmentVariables", fmt.Sprintf("environment variable %s must be a single line", env.Key))
		}
	}
	return nil
}

// LockKey identifies the cloud resource the job owns exclusively.
// Jobs with equal keys must never run concurrently.
func (j *Job) LockKey() string {
	if j.InstanceID != "" {
		return "instance:" + j.InstanceID
	}
	return "stack:" + j.ID
}

// Redacted returns a copy safe for logs and callbacks
func (j Job) Redacted() Job {
	j.AccessKey = ""
	j.SecretKey = ""
	return j
}
