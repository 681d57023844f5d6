package routingslip

import (
	"context"
	"fmt"
	"time"
)

// ActivityName identifies a registered activity capability.
type ActivityName string

// Activity is the unit of work carried by a routing slip. Execute performs the
// forward action; Compensate undoes it after a later activity faulted.
//
// Implementations must be safe for concurrent use: the same Activity instance
// serves every slip whose itinerary names it.
type Activity interface {
	Name() ActivityName
	Execute(ctx context.Context, ectx ExecuteContext) (Result, error)
	Compensate(ctx context.Context, cctx CompensateContext) error
}

// ActivitySpec describes one itinerary entry: the activity to run and the
// arguments to run it with. Address is the transport endpoint hosting the
// activity; the engine carries it but does not interpret it.
type ActivitySpec struct {
	Name      ActivityName `json:"name" yaml:"name"`
	Address   string       `json:"address,omitempty" yaml:"address,omitempty"`
	Arguments *Variables   `json:"arguments,omitempty" yaml:"-"`
}

// NewActivitySpec builds a spec from plain Go arguments.
func NewActivitySpec(name ActivityName, arguments map[string]any) (ActivitySpec, error) {
	args, err := VariablesFrom(arguments)
	if err != nil {
		return ActivitySpec{}, fmt.Errorf("activity %s arguments: %w", name, err)
	}
	return ActivitySpec{Name: name, Arguments: args}, nil
}

// Clone returns a deep copy of the spec.
func (s ActivitySpec) Clone() ActivitySpec {
	s.Arguments = s.Arguments.Clone()
	return s
}

func (s ActivitySpec) String() string {
	return string(s.Name)
}

func cloneSpecs(specs []ActivitySpec) []ActivitySpec {
	out := make([]ActivitySpec, len(specs))
	for i, spec := range specs {
		out[i] = spec.Clone()
	}
	return out
}

// ExecuteContext is handed to Activity.Execute.
type ExecuteContext struct {
	TrackingNumber TrackingNumber
	ExecutionID    ExecutionID
	Activity       ActivitySpec
	// Arguments are the activity's own arguments.
	Arguments *Variables
	// Variables is a copy of the slip variables as they were before this
	// activity ran. Changes must be returned through Complete or Revise.
	Variables *Variables
	// Attempt is 1 for the first invocation and grows with each retry.
	Attempt int
	Started time.Time
}

// DecodeArguments decodes the activity arguments into out.
func (c ExecuteContext) DecodeArguments(out any) error {
	return c.Arguments.Decode(out)
}

// CompensateContext is handed to Activity.Compensate.
type CompensateContext struct {
	TrackingNumber TrackingNumber
	ExecutionID    ExecutionID
	Activity       ActivitySpec
	Arguments      *Variables
	// Variables is the snapshot recorded when the activity completed, not the
	// latest bag.
	Variables *Variables
}

// DecodeArguments decodes the activity arguments into out.
func (c CompensateContext) DecodeArguments(out any) error {
	return c.Arguments.Decode(out)
}

type resultKind int

const (
	resultComplete resultKind = iota
	resultFault
	resultRevise
)

// RevisionMode selects how a revision changes the remaining itinerary.
type RevisionMode int

const (
	// Insert places the new activities ahead of the remaining itinerary.
	Insert RevisionMode = iota
	// Replace discards the remaining itinerary in favour of the new activities.
	Replace
)

func (m RevisionMode) String() string {
	if m == Replace {
		return "replace"
	}
	return "insert"
}

// Result is what an activity returns from Execute: completion with variable
// changes, an explicit business fault, or a revision of the itinerary.
type Result struct {
	kind      resultKind
	variables *Variables
	err       error
	mode      RevisionMode
	itinerary []ActivitySpec
}

// Complete reports success. variables may be nil.
func Complete(variables *Variables) Result {
	return Result{kind: resultComplete, variables: variables}
}

// Fault reports a business fault. The activity is not retried and the slip is
// compensated.
func Fault(err error) Result {
	if err == nil {
		err = fmt.Errorf("activity faulted")
	}
	return Result{kind: resultFault, err: err}
}

// Revise reports success and changes the remaining itinerary.
func Revise(mode RevisionMode, variables *Variables, activities ...ActivitySpec) Result {
	return Result{
		kind:      resultRevise,
		variables: variables,
		mode:      mode,
		itinerary: cloneSpecs(activities),
	}
}

// Variables returns the variable changes carried by the result.
func (r Result) Variables() *Variables { return r.variables }

// Err returns the fault carried by a Fault result.
func (r Result) Err() error { return r.err }

// IsFault reports whether the result is a business fault.
func (r Result) IsFault() bool { return r.kind == resultFault }

// IsRevision reports whether the result revises the itinerary.
func (r Result) IsRevision() bool { return r.kind == resultRevise }
