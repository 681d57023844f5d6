package demo

import (
	"context"
	"testing"
	"time"

	"github.com/fortressi/routingslip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*routingslip.Engine, *routingslip.ActivityRegistry) {
	t.Helper()
	registry := routingslip.NewActivityRegistry()
	require.NoError(t, Register(registry, nil))
	engine := routingslip.NewEngine(registry, routingslip.WithRetryPolicy(routingslip.RetryPolicy{
		Limit:    3,
		Interval: time.Millisecond,
	}))
	return engine, registry
}

func TestRegisterTwiceFails(t *testing.T) {
	registry := routingslip.NewActivityRegistry()
	require.NoError(t, Register(registry, nil))
	assert.Error(t, Register(registry, nil))
	assert.Contains(t, registry.Names(), routingslip.ActivityName("create_database"))
}

func TestProvisionResources(t *testing.T) {
	engine, registry := newEngine(t)
	slip, err := routingslip.NewRoutingSlipBuilder(registry).
		AddActivity("create_database", nil).
		AddActivity("create_server", nil).
		AddActivity("set", map[string]any{"env": "staging"}).
		Build()
	require.NoError(t, err)

	outcome, err := engine.Execute(context.Background(), slip)
	require.NoError(t, err)
	assert.Equal(t, routingslip.SlipCompleted, outcome.Status)

	for _, name := range []string{"db_id", "server_id", "env"} {
		_, ok := outcome.Variables.Get(name)
		assert.True(t, ok, name)
	}
}

func TestFailCompensatesResources(t *testing.T) {
	engine, registry := newEngine(t)
	slip, err := routingslip.NewRoutingSlipBuilder(registry).
		AddActivity("create_database", nil).
		AddActivity("create_server", nil).
		AddActivity("fail", map[string]any{"reason": "quota exceeded"}).
		Build()
	require.NoError(t, err)

	outcome, err := engine.Execute(context.Background(), slip)
	var fe *routingslip.FaultError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, routingslip.ActivityName("fail"), fe.Activity)
	assert.Contains(t, err.Error(), "quota exceeded")

	faulted, ok := outcome.Terminal().(routingslip.RoutingSlipFaulted)
	require.True(t, ok)
	require.Len(t, faulted.Compensated, 2)
	assert.Equal(t, routingslip.ActivityName("create_server"), faulted.Compensated[0].Name)
	assert.Equal(t, routingslip.ActivityName("create_database"), faulted.Compensated[1].Name)
}

func TestFlakyRecoversWithinRetryBudget(t *testing.T) {
	engine, registry := newEngine(t)
	slip, err := routingslip.NewRoutingSlipBuilder(registry).
		AddActivity("flaky", map[string]any{"failures": 2}).
		Build()
	require.NoError(t, err)

	outcome, err := engine.Execute(context.Background(), slip)
	require.NoError(t, err)
	attempts, _ := outcome.Variables.Get("flaky_attempts")
	n, ok := attempts.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func TestFlakyExhaustsRetryBudget(t *testing.T) {
	engine, registry := newEngine(t)
	slip, err := routingslip.NewRoutingSlipBuilder(registry).
		AddActivity("flaky", map[string]any{"failures": 10}).
		Build()
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), slip)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up after 4 attempts")
}

func TestSleepHonoursTimeout(t *testing.T) {
	registry := routingslip.NewActivityRegistry()
	require.NoError(t, Register(registry, nil))
	engine := routingslip.NewEngine(registry,
		routingslip.WithActivityTimeout(10*time.Millisecond),
		routingslip.WithRetryPolicy(routingslip.NoRetry()))

	slip, err := routingslip.NewRoutingSlipBuilder(registry).
		AddActivity("sleep", map[string]any{"duration": "1s"}).
		Build()
	require.NoError(t, err)

	_, err = engine.Execute(context.Background(), slip)
	assert.ErrorIs(t, err, routingslip.ErrActivityTimeout)
}

func TestReviseInsertsActivities(t *testing.T) {
	engine, registry := newEngine(t)
	slip, err := routingslip.NewRoutingSlipBuilder(registry).
		AddActivity("revise", map[string]any{"insert": []string{"create_loadbalancer"}}).
		AddActivity("create_server", nil).
		Build()
	require.NoError(t, err)

	outcome, err := engine.Execute(context.Background(), slip)
	require.NoError(t, err)
	require.Len(t, outcome.Events, 2)
	revised, ok := outcome.Events[0].(routingslip.RoutingSlipRevised)
	require.True(t, ok)
	require.Len(t, revised.Itinerary, 2)
	assert.Equal(t, routingslip.ActivityName("create_loadbalancer"), revised.Itinerary[0].Name)
	_, ok = outcome.Variables.Get("lb_id")
	assert.True(t, ok)
}

func TestBrittleLeavesCompensationFailed(t *testing.T) {
	engine, registry := newEngine(t)
	slip, err := routingslip.NewRoutingSlipBuilder(registry).
		AddActivity("create_database", nil).
		AddActivity("brittle", nil).
		AddActivity("fail", nil).
		Build()
	require.NoError(t, err)

	outcome, err := engine.Execute(context.Background(), slip)
	var ce *routingslip.CompensationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, routingslip.SlipCompensationFailed, outcome.Status)

	failed, ok := outcome.Terminal().(routingslip.RoutingSlipCompensationFailed)
	require.True(t, ok)
	assert.Equal(t, routingslip.ActivityName("brittle"), failed.CompensatingActivity.Name)
	require.Len(t, failed.PendingCompensation, 2)
	assert.Equal(t, routingslip.ActivityName("create_database"), failed.PendingCompensation[1].Name)
}
