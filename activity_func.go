package routingslip

import (
	"context"
	"fmt"
)

// ExecuteFunc is the forward half of an ActivityFunc.
type ExecuteFunc func(ctx context.Context, ectx ExecuteContext) (Result, error)

// CompensateFunc is the undo half of an ActivityFunc.
type CompensateFunc func(ctx context.Context, cctx CompensateContext) error

// ActivityFunc is an implementation of Activity that uses ordinary functions.
type ActivityFunc struct {
	name           ActivityName
	executeFunc    ExecuteFunc
	compensateFunc CompensateFunc
}

// NewActivityFunc constructs a new ActivityFunc from a pair of functions.
func NewActivityFunc(name ActivityName, execute ExecuteFunc, compensate CompensateFunc) *ActivityFunc {
	if compensate == nil {
		compensate = NoOpCompensate
	}
	return &ActivityFunc{
		name:           name,
		executeFunc:    execute,
		compensateFunc: compensate,
	}
}

// NoOpCompensate is used by activities without side effects to undo.
func NoOpCompensate(_ context.Context, _ CompensateContext) error {
	return nil
}

// NewExecuteOnlyActivity constructs an ActivityFunc with a no-op compensation.
func NewExecuteOnlyActivity(name ActivityName, execute ExecuteFunc) *ActivityFunc {
	return NewActivityFunc(name, execute, NoOpCompensate)
}

// Execute implements the Activity interface for ActivityFunc.
func (af *ActivityFunc) Execute(ctx context.Context, ectx ExecuteContext) (Result, error) {
	return af.executeFunc(ctx, ectx)
}

// Compensate implements the Activity interface for ActivityFunc.
func (af *ActivityFunc) Compensate(ctx context.Context, cctx CompensateContext) error {
	return af.compensateFunc(ctx, cctx)
}

// Name implements the Activity interface for ActivityFunc.
func (af *ActivityFunc) Name() ActivityName {
	return af.name
}

// String implements the fmt.Stringer interface for ActivityFunc.
func (af *ActivityFunc) String() string {
	return fmt.Sprintf("ActivityFunc[%s]", af.name)
}
