package routingslip

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// RoutingSlipBuilder assembles a routing slip. Problems found while adding
// activities and variables are collected and reported together by Build as a
// *ProtocolError, before any activity runs.
type RoutingSlipBuilder struct {
	registry       *ActivityRegistry
	trackingNumber TrackingNumber
	specs          []ActivitySpec
	variables      *Variables
	now            func() time.Time

	errs *multierror.Error
}

// NewRoutingSlipBuilder creates a builder resolving activities through
// registry.
func NewRoutingSlipBuilder(registry *ActivityRegistry) *RoutingSlipBuilder {
	return &RoutingSlipBuilder{
		registry:  registry,
		variables: NewVariables(),
		now:       time.Now,
	}
}

// WithTrackingNumber sets the tracking number instead of generating one.
func (b *RoutingSlipBuilder) WithTrackingNumber(trackingNumber TrackingNumber) *RoutingSlipBuilder {
	b.trackingNumber = trackingNumber
	return b
}

// WithClock sets the clock used for the slip's creation time.
func (b *RoutingSlipBuilder) WithClock(now func() time.Time) *RoutingSlipBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

// AddActivity appends a registered activity with plain Go arguments.
func (b *RoutingSlipBuilder) AddActivity(name ActivityName, arguments map[string]any) *RoutingSlipBuilder {
	return b.AddActivityAt(name, "", arguments)
}

// AddActivityAt appends an activity hosted at address.
func (b *RoutingSlipBuilder) AddActivityAt(name ActivityName, address string, arguments map[string]any) *RoutingSlipBuilder {
	spec, err := NewActivitySpec(name, arguments)
	if err != nil {
		b.errs = multierror.Append(b.errs, fmt.Errorf("activity %d: %w", len(b.specs), err))
		// Keep the position so later problems report the right index.
		spec = ActivitySpec{Name: name}
	}
	spec.Address = address
	b.specs = append(b.specs, spec)
	return b
}

// AddActivitySpec appends prepared specs.
func (b *RoutingSlipBuilder) AddActivitySpec(specs ...ActivitySpec) *RoutingSlipBuilder {
	for _, spec := range specs {
		b.specs = append(b.specs, spec.Clone())
	}
	return b
}

// AddActivityFor appends activity, registering it first if the registry does
// not know its name yet.
func (b *RoutingSlipBuilder) AddActivityFor(activity Activity, arguments map[string]any) *RoutingSlipBuilder {
	if activity == nil {
		b.errs = multierror.Append(b.errs, fmt.Errorf("activity %d: activity must not be nil", len(b.specs)))
		return b
	}
	if _, err := b.registry.Get(activity.Name()); err != nil {
		if regErr := b.registry.Register(activity); regErr != nil {
			b.errs = multierror.Append(b.errs, fmt.Errorf("failed to register activity %s: %w", activity.Name(), regErr))
		}
	}
	return b.AddActivity(activity.Name(), arguments)
}

// AddVariable sets an initial variable.
func (b *RoutingSlipBuilder) AddVariable(name string, value any) *RoutingSlipBuilder {
	if err := b.variables.SetAny(name, value); err != nil {
		b.errs = multierror.Append(b.errs, err)
	}
	return b
}

// AddVariables sets every entry of values as an initial variable.
func (b *RoutingSlipBuilder) AddVariables(values map[string]any) *RoutingSlipBuilder {
	for name, value := range values {
		b.AddVariable(name, value)
	}
	return b
}

// Build validates the slip and resolves its itinerary.
func (b *RoutingSlipBuilder) Build() (*RoutingSlip, error) {
	var errs *multierror.Error
	if b.errs != nil {
		errs = multierror.Append(errs, b.errs.Errors...)
	}
	var steps []itineraryStep
	if b.registry == nil {
		errs = multierror.Append(errs, fmt.Errorf("activity registry must not be nil"))
	} else {
		var err error
		steps, err = b.registry.resolve(b.specs)
		var pe *ProtocolError
		if errors.As(err, &pe) {
			errs = multierror.Append(errs, pe.Problems()...)
		} else if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := newProtocolError(errs); err != nil {
		return nil, err
	}

	trackingNumber := b.trackingNumber
	if trackingNumber.IsZero() {
		trackingNumber = NewTrackingNumber()
	}
	return newRoutingSlip(trackingNumber, Itinerary{steps: steps}, b.variables, b.now), nil
}
