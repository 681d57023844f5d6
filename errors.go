package routingslip

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// FaultKind classifies why an activity or a slip did not succeed.
type FaultKind int

const (
	// FaultInfrastructure is transient and retried: timeouts, transport errors.
	FaultInfrastructure FaultKind = iota + 1
	// FaultBusiness is raised by an activity that cannot proceed. Never retried.
	FaultBusiness
	// FaultCompensation is raised when a compensating action fails.
	FaultCompensation
	// FaultProtocol is malformed itinerary or argument data.
	FaultProtocol
)

func (k FaultKind) String() string {
	switch k {
	case FaultInfrastructure:
		return "infrastructure"
	case FaultBusiness:
		return "business"
	case FaultCompensation:
		return "compensation"
	case FaultProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

func (k FaultKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FaultKind) UnmarshalText(data []byte) error {
	switch string(data) {
	case "infrastructure":
		*k = FaultInfrastructure
	case "business":
		*k = FaultBusiness
	case "compensation":
		*k = FaultCompensation
	case "protocol":
		*k = FaultProtocol
	default:
		return fmt.Errorf("invalid fault kind: %s", data)
	}
	return nil
}

var (
	// ErrActivityTimeout is reported when an activity exceeds its timeout.
	ErrActivityTimeout = errors.New("activity timed out")
	// ErrCancelled is the business fault recorded when a slip is cancelled
	// between activities.
	ErrCancelled = errors.New("routing slip cancelled")
	// ErrActivityPanicked wraps a panic recovered from an activity.
	ErrActivityPanicked = errors.New("activity panicked")
	// ErrActivityNotFound is returned by the registry for unknown names.
	ErrActivityNotFound = errors.New("activity not registered")
	// ErrStepAlreadyRecorded rejects a replayed step.
	ErrStepAlreadyRecorded = errors.New("step already recorded")
	// ErrStepOutOfOrder rejects a step that is not the slip's next step.
	ErrStepOutOfOrder = errors.New("step out of order")
	// ErrSlipTerminal rejects changes to a slip that already reached a
	// terminal status.
	ErrSlipTerminal = errors.New("routing slip is terminal")
)

// RetryableError marks an activity error as an infrastructure fault.
type RetryableError struct {
	error
}

// Retryable wraps err so the engine retries the activity instead of
// compensating.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{err}
}

func (e *RetryableError) Unwrap() error { return e.error }

// IsRetryable reports whether err is an infrastructure fault.
func IsRetryable(err error) bool {
	var retryable *RetryableError
	return errors.As(err, &retryable) || errors.Is(err, ErrActivityTimeout)
}

// FaultError is returned by the engine when a slip ends Faulted.
type FaultError struct {
	TrackingNumber TrackingNumber
	Activity       ActivityName
	Kind           FaultKind
	error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("routing slip %s faulted at %s (%s): %v", e.TrackingNumber, e.Activity, e.Kind, e.error)
}

func (e *FaultError) Unwrap() error { return e.error }

// CompensationError is returned when a compensating action fails. The slip is
// left partially rolled back and needs operator attention.
type CompensationError struct {
	TrackingNumber TrackingNumber
	Activity       ActivityName
	// Cause is the fault that triggered compensation.
	Cause error
	error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("routing slip %s: compensation of %s failed permanently: %v", e.TrackingNumber, e.Activity, e.error)
}

func (e *CompensationError) Unwrap() error { return e.error }

// ProtocolError reports malformed itinerary or argument data. It is raised
// before any activity runs.
type ProtocolError struct {
	errs *multierror.Error
}

func newProtocolError(errs *multierror.Error) error {
	if errs.ErrorOrNil() == nil {
		return nil
	}
	return &ProtocolError{errs: errs}
}

func (e *ProtocolError) Error() string {
	return "invalid routing slip: " + e.errs.Error()
}

func (e *ProtocolError) Unwrap() []error { return e.errs.WrappedErrors() }

// Problems returns each individual validation failure.
func (e *ProtocolError) Problems() []error { return e.errs.WrappedErrors() }
