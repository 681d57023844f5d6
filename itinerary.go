package routingslip

// itineraryStep is an itinerary entry bound to its capability.
type itineraryStep struct {
	spec     ActivitySpec
	activity Activity
}

// Itinerary is an immutable, ordered list of activities whose names were
// resolved against an ActivityRegistry. Build one with
// ActivityRegistry.Itinerary or RoutingSlipBuilder.
type Itinerary struct {
	steps []itineraryStep
}

// Len returns the number of activities.
func (it Itinerary) Len() int {
	return len(it.steps)
}

// At returns a copy of the i-th activity spec.
func (it Itinerary) At(i int) ActivitySpec {
	return it.steps[i].spec.Clone()
}

// Activities returns a copy of every activity spec, in order.
func (it Itinerary) Activities() []ActivitySpec {
	return specsOf(it.steps)
}

func specsOf(steps []itineraryStep) []ActivitySpec {
	out := make([]ActivitySpec, len(steps))
	for i, step := range steps {
		out[i] = step.spec.Clone()
	}
	return out
}

// cloneSteps deep-copies steps so that no two slips share argument bags.
func cloneSteps(steps []itineraryStep) []itineraryStep {
	out := make([]itineraryStep, len(steps))
	for i, step := range steps {
		out[i] = itineraryStep{spec: step.spec.Clone(), activity: step.activity}
	}
	return out
}
