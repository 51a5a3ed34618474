package models

// Result is the normalized output of one orchestration run.
// It is built by a single run and never mutated after being returned.
type Result struct {
	InstanceID     string         `json:"instanceId"`
	PublicIP       string         `json:"publicIp,omitempty"`
	PublicHostName string         `json:"publicHostName,omitempty"`
	Status         InstanceStatus `json:"state"`
	SessionToken   SessionToken   `json:"sessionToken"`
	Output         string         `json:"ansibleOutput,omitempty"`
	ModelID        string         `json:"model_id"`
	Logs           []string       `json:"logs"`
}
