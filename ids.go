package routingslip

import (
	"fmt"

	"github.com/google/uuid"
)

// TrackingNumber identifies one logical routing slip for its entire lifetime,
// including every revision.
type TrackingNumber uuid.UUID

// ExecutionID identifies one execution segment of a routing slip. A revised
// slip keeps its TrackingNumber and gets a new ExecutionID.
type ExecutionID uuid.UUID

// NewTrackingNumber generates a new random tracking number.
func NewTrackingNumber() TrackingNumber {
	return TrackingNumber(uuid.New())
}

// ParseTrackingNumber parses the canonical string form of a tracking number.
func ParseTrackingNumber(s string) (TrackingNumber, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TrackingNumber{}, fmt.Errorf("invalid tracking number %q: %w", s, err)
	}
	return TrackingNumber(id), nil
}

func (t TrackingNumber) String() string {
	return uuid.UUID(t).String()
}

// IsZero reports whether the tracking number was never assigned.
func (t TrackingNumber) IsZero() bool {
	return uuid.UUID(t) == uuid.Nil
}

func (t TrackingNumber) MarshalText() ([]byte, error) {
	return uuid.UUID(t).MarshalText()
}

func (t *TrackingNumber) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(t).UnmarshalText(data)
}

// NewExecutionID generates a new random execution id.
func NewExecutionID() ExecutionID {
	return ExecutionID(uuid.New())
}

func (e ExecutionID) String() string {
	return uuid.UUID(e).String()
}

// IsZero reports whether the execution id was never assigned.
func (e ExecutionID) IsZero() bool {
	return uuid.UUID(e) == uuid.Nil
}

func (e ExecutionID) MarshalText() ([]byte, error) {
	return uuid.UUID(e).MarshalText()
}

func (e *ExecutionID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(e).UnmarshalText(data)
}
