package routingslip

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a routing slip lifecycle event.
type EventType string

const (
	EventCompleted          EventType = "routing_slip.completed"
	EventFaulted            EventType = "routing_slip.faulted"
	EventRevised            EventType = "routing_slip.revised"
	EventCompensationFailed EventType = "routing_slip.compensation_failed"
)

// Event is implemented by every lifecycle event. Events are snapshots: they
// share no memory with the slip that produced them.
type Event interface {
	EventType() EventType
	Slip() TrackingNumber
	clone() Event
}

// RoutingSlipCompleted is published when every activity of the itinerary
// completed.
type RoutingSlipCompleted struct {
	TrackingNumber TrackingNumber `json:"tracking_number"`
	ExecutionID    ExecutionID    `json:"execution_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Duration       time.Duration  `json:"duration"`
	Variables      *Variables     `json:"variables"`
}

func (e RoutingSlipCompleted) EventType() EventType { return EventCompleted }
func (e RoutingSlipCompleted) Slip() TrackingNumber { return e.TrackingNumber }

func (e RoutingSlipCompleted) clone() Event {
	e.Variables = e.Variables.Clone()
	return e
}

// RoutingSlipFaulted is published when an activity faulted and every
// completed activity was compensated.
type RoutingSlipFaulted struct {
	TrackingNumber  TrackingNumber `json:"tracking_number"`
	ExecutionID     ExecutionID    `json:"execution_id"`
	Timestamp       time.Time      `json:"timestamp"`
	Duration        time.Duration  `json:"duration"`
	Variables       *Variables     `json:"variables"`
	FaultedActivity ActivityFault  `json:"faulted_activity"`
	// DiscardedItinerary holds the faulted activity and every activity after
	// it.
	DiscardedItinerary []ActivitySpec `json:"discarded_itinerary"`
	// Compensated lists the activities whose compensation ran, in the order it
	// ran.
	Compensated []ActivitySpec `json:"compensated"`
}

func (e RoutingSlipFaulted) EventType() EventType { return EventFaulted }
func (e RoutingSlipFaulted) Slip() TrackingNumber { return e.TrackingNumber }

func (e RoutingSlipFaulted) clone() Event {
	e.Variables = e.Variables.Clone()
	e.FaultedActivity.Activity = e.FaultedActivity.Activity.Clone()
	e.DiscardedItinerary = cloneSpecs(e.DiscardedItinerary)
	e.Compensated = cloneSpecs(e.Compensated)
	return e
}

// RoutingSlipRevised is published when an activity revised the itinerary.
// ExecutionID is the id of the new segment.
type RoutingSlipRevised struct {
	TrackingNumber TrackingNumber `json:"tracking_number"`
	ExecutionID    ExecutionID    `json:"execution_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Duration       time.Duration  `json:"duration"`
	Variables      *Variables     `json:"variables"`
	// Itinerary is the remaining itinerary after the revision.
	Itinerary          []ActivitySpec `json:"itinerary"`
	DiscardedItinerary []ActivitySpec `json:"discarded_itinerary"`
	RevisedBy          ActivitySpec   `json:"revised_by"`
	Mode               string         `json:"mode"`
}

func (e RoutingSlipRevised) EventType() EventType { return EventRevised }
func (e RoutingSlipRevised) Slip() TrackingNumber { return e.TrackingNumber }

func (e RoutingSlipRevised) clone() Event {
	e.Variables = e.Variables.Clone()
	e.Itinerary = cloneSpecs(e.Itinerary)
	e.DiscardedItinerary = cloneSpecs(e.DiscardedItinerary)
	e.RevisedBy = e.RevisedBy.Clone()
	return e
}

// RoutingSlipCompensationFailed is published instead of RoutingSlipFaulted
// when a compensating action failed. The slip is partially rolled back.
type RoutingSlipCompensationFailed struct {
	TrackingNumber       TrackingNumber `json:"tracking_number"`
	ExecutionID          ExecutionID    `json:"execution_id"`
	Timestamp            time.Time      `json:"timestamp"`
	Duration             time.Duration  `json:"duration"`
	Variables            *Variables     `json:"variables"`
	FaultedActivity      ActivityFault  `json:"faulted_activity"`
	CompensatingActivity ActivitySpec   `json:"compensating_activity"`
	Reason               string         `json:"reason"`
	DiscardedItinerary   []ActivitySpec `json:"discarded_itinerary"`
	Compensated          []ActivitySpec `json:"compensated"`
	// PendingCompensation lists the completed activities that were not
	// compensated, starting with the one that failed.
	PendingCompensation []ActivitySpec `json:"pending_compensation"`
}

func (e RoutingSlipCompensationFailed) EventType() EventType { return EventCompensationFailed }
func (e RoutingSlipCompensationFailed) Slip() TrackingNumber { return e.TrackingNumber }

func (e RoutingSlipCompensationFailed) clone() Event {
	e.Variables = e.Variables.Clone()
	e.FaultedActivity.Activity = e.FaultedActivity.Activity.Clone()
	e.CompensatingActivity = e.CompensatingActivity.Clone()
	e.DiscardedItinerary = cloneSpecs(e.DiscardedItinerary)
	e.Compensated = cloneSpecs(e.Compensated)
	e.PendingCompensation = cloneSpecs(e.PendingCompensation)
	return e
}

// CloneEvent returns a deep copy of ev.
func CloneEvent(ev Event) Event {
	if ev == nil {
		return nil
	}
	return ev.clone()
}

type eventEnvelope struct {
	Type  EventType       `json:"type"`
	Event json.RawMessage `json:"event"`
}

// EncodeEvent encodes ev as {"type": ..., "event": {...}}.
func EncodeEvent(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.EventType(), err)
	}
	return json.Marshal(eventEnvelope{Type: ev.EventType(), Event: body})
}

// DecodeEvent decodes the envelope written by EncodeEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventCompleted:
		var out RoutingSlipCompleted
		err = json.Unmarshal(env.Event, &out)
		ev = out
	case EventFaulted:
		var out RoutingSlipFaulted
		err = json.Unmarshal(env.Event, &out)
		ev = out
	case EventRevised:
		var out RoutingSlipRevised
		err = json.Unmarshal(env.Event, &out)
		ev = out
	case EventCompensationFailed:
		var out RoutingSlipCompensationFailed
		err = json.Unmarshal(env.Event, &out)
		ev = out
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Type, err)
	}
	return ev, nil
}
