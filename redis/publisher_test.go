package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fortressi/routingslip"
	"github.com/fortressi/routingslip/redis"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	publisher := redis.NewPublisher(client, "")
	assert.Equal(t, "routingslip:events", publisher.Channel())

	sub, err := redis.Subscribe(ctx, client, publisher.Channel())
	require.NoError(t, err)
	defer sub.Close()

	sent := routingslip.RoutingSlipCompleted{
		TrackingNumber: routingslip.NewTrackingNumber(),
		ExecutionID:    routingslip.NewExecutionID(),
		Timestamp:      time.Now().UTC(),
		Duration:       time.Second,
		Variables:      routingslip.MustVariables(map[string]any{"order": "o-1"}),
	}
	require.NoError(t, publisher.Publish(ctx, sent))

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	completed, ok := got.(routingslip.RoutingSlipCompleted)
	require.True(t, ok)
	assert.Equal(t, sent.TrackingNumber, completed.TrackingNumber)
	assert.True(t, sent.Variables.Equal(completed.Variables))
}

func TestEngineOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := redis.Subscribe(ctx, client, "slips")
	require.NoError(t, err)
	defer sub.Close()

	registry := routingslip.NewActivityRegistry().MustRegister(
		routingslip.NewExecuteOnlyActivity("reserve", func(context.Context, routingslip.ExecuteContext) (routingslip.Result, error) {
			return routingslip.Complete(routingslip.MustVariables(map[string]any{"seats": 2})), nil
		}),
	)
	store := redis.NewFromClient(client)
	engine := routingslip.NewEngine(registry,
		routingslip.WithStore(store),
		routingslip.WithPublisher(redis.NewPublisher(client, "slips")),
	)

	slip, err := routingslip.NewRoutingSlipBuilder(registry).AddActivity("reserve", nil).Build()
	require.NoError(t, err)
	_, err = engine.Execute(ctx, slip)
	require.NoError(t, err)

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, routingslip.EventCompleted, ev.EventType())
	assert.Equal(t, slip.TrackingNumber(), ev.Slip())

	saved, err := store.Load(ctx, slip.TrackingNumber())
	require.NoError(t, err)
	assert.Equal(t, routingslip.SlipCompleted, saved.Status)
	assert.Len(t, saved.Log, 1)
}
