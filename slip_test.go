package routingslip

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSuccessIsIdempotent(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil), j.step("charge", nil))
	slip := build(t, registry, "reserve", "charge")

	step, ok := slip.Advance()
	require.True(t, ok)
	assert.Equal(t, 0, step.Sequence)
	require.NoError(t, slip.RecordSuccess(step, MustVariables(map[string]any{"seats": 2})))

	err := slip.RecordSuccess(step, MustVariables(map[string]any{"seats": 3}))
	assert.ErrorIs(t, err, ErrStepAlreadyRecorded)

	log := slip.Log()
	require.Len(t, log, 1)
	seats, _ := slip.Variables().Get("seats")
	n, _ := seats.AsInt()
	assert.Equal(t, int64(2), n, "a replayed step does not change the variables")
	assert.Equal(t, []ActivityName{"charge"}, names(slip.Itinerary()))
}

func TestRecordRejectsStepOutOfOrder(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil), j.step("charge", nil))
	slip := build(t, registry, "reserve", "charge")

	step, _ := slip.Advance()
	step.Sequence = 1
	assert.ErrorIs(t, slip.RecordSuccess(step, nil), ErrStepOutOfOrder)

	step, _ = slip.Advance()
	step.Activity.Name = "charge"
	assert.ErrorIs(t, slip.RecordSuccess(step, nil), ErrStepOutOfOrder)

	step, _ = slip.Advance()
	step.ExecutionID = NewExecutionID()
	assert.ErrorIs(t, slip.RecordFailure(step, FaultBusiness, errors.New("x")), ErrStepOutOfOrder)
	assert.Equal(t, SlipRunning, slip.Status())
}

func TestRecordFailureDiscardsRemainder(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil), j.step("charge", nil), j.step("ship", nil))
	slip := build(t, registry, "reserve", "charge", "ship")

	step, _ := slip.Advance()
	require.NoError(t, slip.RecordSuccess(step, nil))
	step, _ = slip.Advance()
	step.Attempts = 2
	require.NoError(t, slip.RecordFailure(step, FaultBusiness, errors.New("declined")))

	assert.Equal(t, SlipCompensating, slip.Status())
	assert.Empty(t, slip.Itinerary())
	assert.Equal(t, []ActivityName{"charge", "ship"}, names(slip.DiscardedItinerary()))

	fault := slip.Fault()
	require.NotNil(t, fault)
	assert.Equal(t, ActivityName("charge"), fault.Activity.Name)
	assert.Equal(t, "declined", fault.Reason)
	assert.Equal(t, 2, fault.Attempts)

	_, ok := slip.Advance()
	assert.False(t, ok)
	assert.ErrorIs(t, slip.MarkCompleted(), ErrSlipTerminal)
}

func TestReviseInsertAndReplace(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(
		j.step("screen", nil), j.step("verify", nil), j.step("open", nil), j.step("reject", nil),
	)

	t.Run("insert", func(t *testing.T) {
		slip := build(t, registry, "screen", "open")
		before := slip.ExecutionID()
		revision, err := registry.Itinerary(ActivitySpec{Name: "verify"})
		require.NoError(t, err)

		step, _ := slip.Advance()
		discarded, err := slip.Revise(step, nil, Insert, revision)
		require.NoError(t, err)
		assert.Empty(t, discarded)
		assert.Equal(t, []ActivityName{"verify", "open"}, names(slip.Itinerary()))
		assert.NotEqual(t, before, slip.ExecutionID())
		assert.Equal(t, before, slip.Log()[0].ExecutionID)

		next, _ := slip.Advance()
		assert.Equal(t, 1, next.Sequence)
		assert.Equal(t, slip.ExecutionID(), next.ExecutionID)
	})

	t.Run("replace", func(t *testing.T) {
		slip := build(t, registry, "screen", "open")
		revision, err := registry.Itinerary(ActivitySpec{Name: "reject"})
		require.NoError(t, err)

		step, _ := slip.Advance()
		discarded, err := slip.Revise(step, nil, Replace, revision)
		require.NoError(t, err)
		assert.Equal(t, []ActivityName{"open"}, names(discarded))
		assert.Equal(t, []ActivityName{"reject"}, names(slip.Itinerary()))
	})
}

func TestAccessorsReturnCopies(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil))
	slip, err := NewRoutingSlipBuilder(registry).
		AddActivity("reserve", map[string]any{"seats": 2}).
		AddVariable("order", "o-1").
		Build()
	require.NoError(t, err)

	slip.Variables().Set("order", String("changed"))
	slip.Itinerary()[0].Arguments.Set("seats", Int(9))

	order, _ := slip.Variables().Get("order")
	s, _ := order.AsString()
	assert.Equal(t, "o-1", s)
	seats, _ := slip.Itinerary()[0].Arguments.Get("seats")
	n, _ := seats.AsInt()
	assert.Equal(t, int64(2), n)
}

func TestSnapshotRestore(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil), j.step("charge", nil))
	slip := build(t, registry, "reserve", "charge")
	step, _ := slip.Advance()
	require.NoError(t, slip.RecordSuccess(step, MustVariables(map[string]any{"seats": 2})))

	data, err := json.Marshal(slip.Snapshot())
	require.NoError(t, err)
	var state SlipState
	require.NoError(t, json.Unmarshal(data, &state))

	restored, err := RestoreRoutingSlip(registry, state)
	require.NoError(t, err)
	assert.Equal(t, slip.TrackingNumber(), restored.TrackingNumber())
	assert.Equal(t, slip.ExecutionID(), restored.ExecutionID())
	assert.Equal(t, SlipRunning, restored.Status())
	assert.Equal(t, []ActivityName{"charge"}, names(restored.Itinerary()))
	assert.True(t, slip.Variables().Equal(restored.Variables()))

	// The recorded step cannot be replayed against the restored slip.
	assert.ErrorIs(t, restored.RecordSuccess(step, nil), ErrStepAlreadyRecorded)

	next, ok := restored.Advance()
	require.True(t, ok)
	assert.Equal(t, 1, next.Sequence)
	require.NoError(t, restored.RecordSuccess(next, nil))
	require.NoError(t, restored.MarkCompleted())
}

func TestRestoreRequiresRegisteredActivities(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil), j.step("charge", nil))
	state := build(t, registry, "reserve", "charge").Snapshot()

	_, err := RestoreRoutingSlip(NewActivityRegistry(), state)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Len(t, pe.Problems(), 2)

	state.TrackingNumber = TrackingNumber{}
	_, err = RestoreRoutingSlip(registry, state)
	assert.Error(t, err)
}

func TestEntryStatusTransitions(t *testing.T) {
	legal := map[EntryStatus][]EntryStatus{
		EntryCompleted:          {EntryCompensating},
		EntryCompensating:       {EntryCompensated, EntryCompensationFailed},
		EntryCompensationFailed: {EntryCompensating},
	}
	all := []EntryStatus{EntryCompleted, EntryCompensating, EntryCompensated, EntryCompensationFailed}
	for _, from := range all {
		for _, to := range all {
			_, err := from.next(to)
			allowed := false
			for _, ok := range legal[from] {
				allowed = allowed || ok == to
			}
			if allowed {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.Error(t, err, "%s -> %s", from, to)
			}
		}
	}
}

func TestFormatLog(t *testing.T) {
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(j.step("reserve", nil))
	slip := build(t, registry, "reserve")
	step, _ := slip.Advance()
	require.NoError(t, slip.RecordSuccess(step, nil))

	out := FormatLog(slip.TrackingNumber(), slip.Log())
	assert.Contains(t, out, slip.TrackingNumber().String())
	assert.Contains(t, out, "N000 reserve completed")
}
