package routingslip

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
)

// ActivityRegistry maps activity names to their capabilities.
//
// A persisted routing slip only carries activity names, so a slip reloaded by
// another worker can only recover its activities through a registry shared by
// every worker. Names are resolved once, when an itinerary is built, not on
// every invocation.
type ActivityRegistry struct {
	activities *xsync.MapOf[ActivityName, Activity]
}

// NewActivityRegistry creates a new ActivityRegistry.
func NewActivityRegistry() *ActivityRegistry {
	return &ActivityRegistry{
		activities: xsync.NewMapOf[ActivityName, Activity](),
	}
}

// Register adds an activity to the registry.
func (r *ActivityRegistry) Register(activity Activity) error {
	if activity == nil {
		return fmt.Errorf("activity must not be nil")
	}
	if activity.Name() == "" {
		return fmt.Errorf("activity name must not be empty")
	}
	if _, loaded := r.activities.LoadOrStore(activity.Name(), activity); loaded {
		return fmt.Errorf("activity with name '%s' already registered", activity.Name())
	}
	return nil
}

// MustRegister registers activities and panics on the first error.
func (r *ActivityRegistry) MustRegister(activities ...Activity) *ActivityRegistry {
	for _, activity := range activities {
		if err := r.Register(activity); err != nil {
			panic(err)
		}
	}
	return r
}

// Get retrieves an activity from the registry by its name.
func (r *ActivityRegistry) Get(name ActivityName) (Activity, error) {
	activity, ok := r.activities.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, name)
	}
	return activity, nil
}

// Names lists the registered activity names in sorted order.
func (r *ActivityRegistry) Names() []ActivityName {
	names := make([]ActivityName, 0, r.activities.Size())
	r.activities.Range(func(name ActivityName, _ Activity) bool {
		names = append(names, name)
		return true
	})
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Itinerary resolves every spec against the registry. All problems are
// reported together as a *ProtocolError.
func (r *ActivityRegistry) Itinerary(specs ...ActivitySpec) (Itinerary, error) {
	steps, err := r.resolve(specs)
	if err != nil {
		return Itinerary{}, err
	}
	return Itinerary{steps: steps}, nil
}

func (r *ActivityRegistry) resolve(specs []ActivitySpec) ([]itineraryStep, error) {
	var errs *multierror.Error
	steps := make([]itineraryStep, 0, len(specs))
	for i, spec := range specs {
		if spec.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("activity %d: name must not be empty", i))
			continue
		}
		activity, err := r.Get(spec.Name)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("activity %d: %w", i, err))
			continue
		}
		steps = append(steps, itineraryStep{spec: spec.Clone(), activity: activity})
	}
	if err := newProtocolError(errs); err != nil {
		return nil, err
	}
	return steps, nil
}
