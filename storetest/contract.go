// Package storetest checks routingslip.Store implementations against the
// behaviour the engine relies on.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/fortressi/routingslip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewState returns a minimal saved slip with one completed activity.
func NewState(t *testing.T) routingslip.SlipState {
	t.Helper()
	spec, err := routingslip.NewActivitySpec("reserve", map[string]any{"seats": 2})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Millisecond)
	vars := routingslip.MustVariables(map[string]any{"order": "o-1"})
	return routingslip.SlipState{
		TrackingNumber: routingslip.NewTrackingNumber(),
		ExecutionID:    routingslip.NewExecutionID(),
		Status:         routingslip.SlipRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
		Itinerary:      []routingslip.ActivitySpec{{Name: "charge"}},
		Log: []routingslip.LogEntry{{
			Sequence:  0,
			Activity:  spec,
			Timestamp: now,
			Attempts:  1,
			Variables: vars,
			Status:    routingslip.EntryCompleted,
		}},
		Variables: vars,
	}
}

// RunStoreContract runs a suite of tests to verify that a Store
// implementation adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store routingslip.Store) {
	ctx := context.Background()
	const ttl = 10 * time.Second

	t.Run("Save and Load", func(t *testing.T) {
		state := NewState(t)
		lease, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", ttl)
		require.NoError(t, err)
		defer store.Delete(ctx, state.TrackingNumber)

		require.NoError(t, store.Save(ctx, state, lease))

		loaded, err := store.Load(ctx, state.TrackingNumber)
		require.NoError(t, err)
		assert.Equal(t, state.TrackingNumber, loaded.TrackingNumber)
		assert.Equal(t, state.ExecutionID, loaded.ExecutionID)
		assert.Equal(t, routingslip.SlipRunning, loaded.Status)
		assert.True(t, state.CreatedAt.Equal(loaded.CreatedAt))
		require.Len(t, loaded.Log, 1)
		assert.Equal(t, routingslip.ActivityName("reserve"), loaded.Log[0].Activity.Name)
		assert.True(t, state.Variables.Equal(loaded.Variables))
		assert.True(t, state.Log[0].Activity.Arguments.Equal(loaded.Log[0].Activity.Arguments))
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, routingslip.NewTrackingNumber())
		assert.ErrorIs(t, err, routingslip.ErrSlipNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		state := NewState(t)
		lease, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", ttl)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, state, lease))

		require.NoError(t, store.Delete(ctx, state.TrackingNumber))

		_, err = store.Load(ctx, state.TrackingNumber)
		assert.ErrorIs(t, err, routingslip.ErrSlipNotFound, "Load after Delete should return ErrSlipNotFound")
		assert.NoError(t, store.Delete(ctx, state.TrackingNumber), "deleting twice is not an error")
	})

	t.Run("List", func(t *testing.T) {
		first, second := NewState(t), NewState(t)
		for _, state := range []routingslip.SlipState{first, second} {
			lease, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", ttl)
			require.NoError(t, err)
			require.NoError(t, store.Save(ctx, state, lease))
		}
		defer func() {
			_ = store.Delete(ctx, first.TrackingNumber)
			_ = store.Delete(ctx, second.TrackingNumber)
		}()

		listed, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, listed, first.TrackingNumber)
		assert.Contains(t, listed, second.TrackingNumber)
	})

	t.Run("Lease is exclusive", func(t *testing.T) {
		state := NewState(t)
		defer store.Delete(ctx, state.TrackingNumber)

		lease, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", ttl)
		require.NoError(t, err)

		_, err = store.Acquire(ctx, state.TrackingNumber, "worker-b", ttl)
		assert.ErrorIs(t, err, routingslip.ErrLeaseHeld)

		require.NoError(t, store.Release(ctx, lease))
		taken, err := store.Acquire(ctx, state.TrackingNumber, "worker-b", ttl)
		require.NoError(t, err)
		assert.Greater(t, taken.Token, lease.Token, "fencing tokens only grow")
	})

	t.Run("Stale token cannot save", func(t *testing.T) {
		state := NewState(t)
		defer store.Delete(ctx, state.TrackingNumber)

		stale, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", ttl)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, state, stale))

		// Re-acquiring, even by the same owner, fences the older token.
		current, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", ttl)
		require.NoError(t, err)

		state.Status = routingslip.SlipCompensating
		err = store.Save(ctx, state, stale)
		assert.ErrorIs(t, err, routingslip.ErrLeaseLost)

		loaded, err := store.Load(ctx, state.TrackingNumber)
		require.NoError(t, err)
		assert.Equal(t, routingslip.SlipRunning, loaded.Status, "rejected save must not be visible")

		require.NoError(t, store.Save(ctx, state, current))
		require.NoError(t, store.Release(ctx, current))
		assert.ErrorIs(t, store.Save(ctx, state, current), routingslip.ErrLeaseLost, "released lease cannot save")
	})

	t.Run("Releasing a stale lease keeps the current one", func(t *testing.T) {
		state := NewState(t)
		defer store.Delete(ctx, state.TrackingNumber)

		stale, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", ttl)
		require.NoError(t, err)
		current, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", ttl)
		require.NoError(t, err)

		require.NoError(t, store.Release(ctx, stale))
		assert.NoError(t, store.Save(ctx, state, current))
	})
}
