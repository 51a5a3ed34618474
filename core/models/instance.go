package models

// InstanceStatus is the provider-reported state of a compute instance
type InstanceStatus string

const (
	InstanceStatusPending      InstanceStatus = "pending"
	InstanceStatusRunning      InstanceStatus = "running"
	InstanceStatusStopping     InstanceStatus = "stopping"
	InstanceStatusStopped      InstanceStatus = "stopped"
	InstanceStatusShuttingDown InstanceStatus = "shutting-down"
	InstanceStatusTerminated   InstanceStatus = "terminated"
	InstanceStatusError        InstanceStatus = "error"
)

// ParseInstanceStatus maps a raw provider state name to an InstanceStatus.
// Unknown names map to InstanceStatusError.
func ParseInstanceStatus(raw string) InstanceStatus {
	switch s := InstanceStatus(raw); s {
	case InstanceStatusPending, InstanceStatusRunning, InstanceStatusStopping,
		InstanceStatusStopped, InstanceStatusShuttingDown, InstanceStatusTerminated:
		return s
	}
	return InstanceStatusError
}

// InstanceState is one describe observation. It is re-fetched on every poll.
type InstanceState struct {
	InstanceID     string
	Status         InstanceStatus
	PublicIP       string
	PublicHostName string
}

// Target identifies an instance the provisioning procedure should converge
// instead of creating a new one
type Target struct {
	InstanceID string
	PublicIP   string
	// Reachable is set when the caller has already probed PublicIP
	Reachable bool
}

// ProvisionOutputs are the outputs of one provisioning run
type ProvisionOutputs struct {
	InstanceID     string
	PublicIP       string
	PublicHostName string
	// CombinedOutput is the environment push output and the configuration
	// run output, newline-joined
	CombinedOutput string
}
