package routingslip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedEvent() RoutingSlipCompleted {
	return RoutingSlipCompleted{
		TrackingNumber: NewTrackingNumber(),
		ExecutionID:    NewExecutionID(),
		Timestamp:      time.Now(),
		Duration:       time.Second,
		Variables:      MustVariables(map[string]any{"order": "o-1"}),
	}
}

func TestMultiPublisherAggregatesErrors(t *testing.T) {
	memory := NewMemoryPublisher()
	broken := PublisherFunc(func(context.Context, Event) error { return errors.New("broker unavailable") })
	multi := MultiPublisher{broken, memory, broken}

	err := multi.Publish(context.Background(), completedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
	assert.Len(t, memory.Events(), 1, "a failing publisher does not block the others")

	assert.NoError(t, MultiPublisher{memory, NopPublisher{}}.Publish(context.Background(), completedEvent()))
}

func TestMemoryPublisherEventsFor(t *testing.T) {
	memory := NewMemoryPublisher()
	first, second := completedEvent(), completedEvent()
	require.NoError(t, memory.Publish(context.Background(), first))
	require.NoError(t, memory.Publish(context.Background(), second))

	events := memory.EventsFor(second.TrackingNumber)
	require.Len(t, events, 1)
	assert.Equal(t, second.TrackingNumber, events[0].Slip())

	first.Variables.Set("order", String("changed"))
	stored := memory.EventsFor(first.TrackingNumber)[0].(RoutingSlipCompleted)
	order, _ := stored.Variables.Get("order")
	s, _ := order.AsString()
	assert.Equal(t, "o-1", s)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ev := completedEvent()

	require.NoError(t, NewLogPublisher(logger, slog.LevelInfo).Publish(context.Background(), ev))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "routing slip event", record["msg"])
	assert.Equal(t, "INFO", record["level"])
	assert.Equal(t, string(EventCompleted), record["event"])
	assert.Equal(t, ev.TrackingNumber.String(), record["tracking_number"])
	assert.EqualValues(t, 1, record["variables"])

	buf.Reset()
	require.NoError(t, NewLogPublisher(logger, slog.LevelDebug).Publish(context.Background(), ev))
	assert.Empty(t, buf.String(), "below the handler level")
}
