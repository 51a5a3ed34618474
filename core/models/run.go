package models

import "time"

// RunOutcome is the result of one job attempt
type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunRetrying  RunOutcome = "retrying"
	RunFailed    RunOutcome = "failed"
)

// JobRun is the history record of one attempt
type JobRun struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	Action     Action     `json:"action"`
	Attempt    int        `json:"attempt"`
	Outcome    RunOutcome `json:"outcome"`
	InstanceID string     `json:"instance_id,omitempty"`
	PublicIP   string     `json:"public_ip,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	Logs       []string   `json:"logs,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}
