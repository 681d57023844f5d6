package routingslip

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// EventPublisher hands lifecycle events to the transport layer.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MemoryPublisher keeps every published event in memory. Useful for tests and
// in-process observers.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, CloneEvent(ev))
	return nil
}

// Events returns copies of the events published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	for i, ev := range p.events {
		out[i] = CloneEvent(ev)
	}
	return out
}

// EventsFor returns the events published for one slip.
func (p *MemoryPublisher) EventsFor(trackingNumber TrackingNumber) []Event {
	var out []Event
	for _, ev := range p.Events() {
		if ev.Slip() == trackingNumber {
			out = append(out, ev)
		}
	}
	return out
}

// LogPublisher writes each event to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogPublisher creates a LogPublisher logging at level.
func NewLogPublisher(logger *slog.Logger, level slog.Level) *LogPublisher {
	return &LogPublisher{logger: logger, level: level}
}

func (p *LogPublisher) Publish(ctx context.Context, ev Event) error {
	attrs := []slog.Attr{
		slog.String("event", string(ev.EventType())),
		slog.String("tracking_number", ev.Slip().String()),
	}
	switch e := ev.(type) {
	case RoutingSlipCompleted:
		attrs = append(attrs, slog.Duration("duration", e.Duration), slog.Int("variables", e.Variables.Len()))
	case RoutingSlipFaulted:
		attrs = append(attrs,
			slog.String("activity", string(e.FaultedActivity.Activity.Name)),
			slog.String("reason", e.FaultedActivity.Reason),
			slog.Int("compensated", len(e.Compensated)),
		)
	case RoutingSlipRevised:
		attrs = append(attrs,
			slog.String("execution_id", e.ExecutionID.String()),
			slog.Int("itinerary", len(e.Itinerary)),
			slog.Int("discarded", len(e.DiscardedItinerary)),
		)
	case RoutingSlipCompensationFailed:
		attrs = append(attrs,
			slog.String("activity", string(e.CompensatingActivity.Name)),
			slog.String("reason", e.Reason),
			slog.Int("pending", len(e.PendingCompensation)),
		)
	}
	p.logger.LogAttrs(ctx, p.level, "routing slip event", attrs...)
	return nil
}

// MultiPublisher publishes every event to each publisher in turn. Each
// publisher receives its own copy of the event.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(ctx context.Context, ev Event) error {
	var errs *multierror.Error
	for _, p := range m {
		if err := p.Publish(ctx, CloneEvent(ev)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
