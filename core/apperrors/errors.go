// Package apperrors defines the orchestration error taxonomy.
//
// Every error surfaced by an orchestration run wraps exactly one sentinel so
// callers can classify it with errors.Is, while errors.Is and errors.As still
// reach the underlying cause.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrPrecondition     = errors.New("precondition failed")
	ErrProvider         = errors.New("provider error")
	ErrStateTransition  = errors.New("unexpected instance state")
	ErrTimeout          = errors.New("timed out")
	ErrProvisioning     = errors.New("provisioning failed")
	ErrCallbackDelivery = errors.New("callback delivery failed")
)

// Error provides a structured error with context.
type Error struct {
	Sentinel   error  // Wrapped sentinel for errors.Is() classification
	Message    string // Human-readable message
	Field      string // Job field for precondition errors (e.g. "instance_id")
	Op         string // Operation that failed (e.g. "ec2.StartInstances")
	InstanceID string
	Status     string // Offending instance status for state transition errors
	Cause      error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Precondition reports a missing or malformed job field.
func Precondition(field, message string) error {
	return &Error{
		Sentinel: ErrPrecondition,
		Message:  message,
		Field:    field,
	}
}

// Provider wraps a transport or auth failure against the cloud API.
func Provider(op string, cause error) error {
	return &Error{
		Sentinel: ErrProvider,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// StateTransition reports an instance status outside the expected set.
func StateTransition(instanceID, status, action string) error {
	return &Error{
		Sentinel:   ErrStateTransition,
		Message:    fmt.Sprintf("Can't %s an instance from %s state", action, status),
		InstanceID: instanceID,
		Status:     status,
	}
}

// Timeout reports a bounded wait that exceeded its budget.
func Timeout(op, message string) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  fmt.Sprintf("%s: %s", op, message),
		Op:       op,
	}
}

// Provisioning wraps a failed provisioning or configuration step.
func Provisioning(op string, cause error) error {
	return &Error{
		Sentinel: ErrProvisioning,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// CallbackDelivery wraps a failed callback POST.
func CallbackDelivery(url string, cause error) error {
	return &Error{
		Sentinel: ErrCallbackDelivery,
		Message:  fmt.Sprintf("callback to %s: %v", url, cause),
		Op:       "callback",
		Cause:    cause,
	}
}

// Retryable reports whether the queue may re-run a job that failed with err.
// Precondition violations are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPrecondition)
}

// Kind returns a short label for metrics and callbacks. It classifies by
// the outermost *Error in the chain.
func Kind(err error) string {
	if err == nil {
		return "none"
	}
	var appErr *Error
	if !errors.As(err, &appErr) {
		return "internal"
	}
	switch appErr.Sentinel {
	case ErrPrecondition:
		return "precondition"
	case ErrProvider:
		return "provider"
	case ErrStateTransition:
		return "state_transition"
	case ErrTimeout:
		return "timeout"
	case ErrProvisioning:
		return "provisioning"
	case ErrCallbackDelivery:
		return "callback_delivery"
	default:
		return "internal"
	}
}
