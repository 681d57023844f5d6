package routingslip_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortressi/routingslip"
	"github.com/fortressi/routingslip/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetest.RunStoreContract(t, routingslip.NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := routingslip.NewFileStore(t.TempDir())
	require.NoError(t, err)
	storetest.RunStoreContract(t, store)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	state := storetest.NewState(t)

	first, err := routingslip.NewFileStore(dir)
	require.NoError(t, err)
	lease, err := first.Acquire(ctx, state.TrackingNumber, "worker-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, state, lease))

	// Stray files in the directory are not slips.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-slip.json"), []byte("{}"), 0o644))

	second, err := routingslip.NewFileStore(dir)
	require.NoError(t, err)
	listed, err := second.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []routingslip.TrackingNumber{state.TrackingNumber}, listed)

	loaded, err := second.Load(ctx, state.TrackingNumber)
	require.NoError(t, err)
	assert.True(t, state.Variables.Equal(loaded.Variables))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := routingslip.NewMemoryStore()
	state := storetest.NewState(t)
	lease, err := store.Acquire(ctx, state.TrackingNumber, "worker-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, state, lease))

	state.Variables.Set("order", routingslip.String("changed"))
	loaded, err := store.Load(ctx, state.TrackingNumber)
	require.NoError(t, err)
	loaded.Log[0].Variables.Set("order", routingslip.String("changed"))

	again, err := store.Load(ctx, state.TrackingNumber)
	require.NoError(t, err)
	order, _ := again.Variables.Get("order")
	s, _ := order.AsString()
	assert.Equal(t, "o-1", s)
	order, _ = again.Log[0].Variables.Get("order")
	s, _ = order.AsString()
	assert.Equal(t, "o-1", s)
}

func TestSaveRejectsForeignLease(t *testing.T) {
	ctx := context.Background()
	store := routingslip.NewMemoryStore()
	state := storetest.NewState(t)
	lease, err := store.Acquire(ctx, routingslip.NewTrackingNumber(), "worker-a", time.Minute)
	require.NoError(t, err)
	assert.Error(t, store.Save(ctx, state, lease))
}
