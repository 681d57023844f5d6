package routingslip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBuildsSlip(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil), j.step("charge", nil))
	tn := NewTrackingNumber()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	slip, err := NewRoutingSlipBuilder(registry).
		WithTrackingNumber(tn).
		WithClock(func() time.Time { return created }).
		AddActivityAt("reserve", "queue://inventory", map[string]any{"seats": 2}).
		AddActivity("charge", nil).
		AddVariables(map[string]any{"order": "o-1", "amount": 12.5}).
		Build()
	require.NoError(t, err)

	assert.Equal(t, tn, slip.TrackingNumber())
	assert.False(t, slip.ExecutionID().IsZero())
	assert.Equal(t, created, slip.CreatedAt())
	assert.Equal(t, SlipRunning, slip.Status())

	itinerary := slip.Itinerary()
	require.Len(t, itinerary, 2)
	assert.Equal(t, "queue://inventory", itinerary[0].Address)
	assert.Equal(t, 2, slip.Variables().Len())
	assert.Empty(t, slip.Log())
}

func TestBuilderCollectsProblems(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil))

	_, err := NewRoutingSlipBuilder(registry).
		AddActivity("reserve", map[string]any{"callback": func() {}}).
		AddActivity("ghost", nil).
		AddVariable("", 1).
		AddVariable("channel", make(chan int)).
		Build()

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Len(t, pe.Problems(), 4)
}

func TestBuilderWithoutRegistry(t *testing.T) {
	_, err := NewRoutingSlipBuilder(nil).Build()
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestBuilderAddActivityForRegisters(t *testing.T) {
	registry := NewActivityRegistry()
	ran := false
	activity := NewExecuteOnlyActivity("reserve", func(context.Context, ExecuteContext) (Result, error) {
		ran = true
		return Complete(nil), nil
	})

	slip, err := NewRoutingSlipBuilder(registry).
		AddActivityFor(activity, nil).
		AddActivityFor(activity, nil).
		Build()
	require.NoError(t, err)
	assert.Len(t, slip.Itinerary(), 2)
	assert.Equal(t, []ActivityName{"reserve"}, registry.Names())

	_, err = NewEngine(registry).Execute(context.Background(), slip)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestBuilderCopiesVariables(t *testing.T) {
	registry := NewActivityRegistry()
	b := NewRoutingSlipBuilder(registry).AddVariable("order", "o-1")
	first, err := b.Build()
	require.NoError(t, err)

	b.AddVariable("order", "o-2")
	second, err := b.Build()
	require.NoError(t, err)

	order, _ := first.Variables().Get("order")
	s, _ := order.AsString()
	assert.Equal(t, "o-1", s)
	assert.NotEqual(t, first.TrackingNumber(), second.TrackingNumber())
}
