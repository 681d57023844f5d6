package routingslip

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntryStatus is the status of one completed activity in the execution log.
type EntryStatus int

const (
	EntryCompleted EntryStatus = iota
	EntryCompensating
	EntryCompensated
	EntryCompensationFailed
)

// next returns the status after moving to want, or an error when the
// transition is illegal.
func (s EntryStatus) next(want EntryStatus) (EntryStatus, error) {
	switch s {
	case EntryCompleted:
		if want == EntryCompensating {
			return want, nil
		}
	case EntryCompensating:
		switch want {
		case EntryCompensated, EntryCompensationFailed:
			return want, nil
		}
	case EntryCompensationFailed:
		// An operator may retry a failed compensation by resuming the slip.
		if want == EntryCompensating {
			return want, nil
		}
	}
	return s, fmt.Errorf("illegal log entry transition %s -> %s", s, want)
}

// String returns the string representation of the EntryStatus.
func (s EntryStatus) String() string {
	switch s {
	case EntryCompleted:
		return "completed"
	case EntryCompensating:
		return "compensating"
	case EntryCompensated:
		return "compensated"
	case EntryCompensationFailed:
		return "compensation_failed"
	default:
		return fmt.Sprintf("EntryStatus(%d)", int(s))
	}
}

// MarshalJSON implements the json.Marshaler interface for EntryStatus.
func (s EntryStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for EntryStatus.
func (s *EntryStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	switch str {
	case "completed":
		*s = EntryCompleted
	case "compensating":
		*s = EntryCompensating
	case "compensated":
		*s = EntryCompensated
	case "compensation_failed":
		*s = EntryCompensationFailed
	default:
		return fmt.Errorf("invalid EntryStatus: %s", str)
	}
	return nil
}

// LogEntry records one completed activity.
type LogEntry struct {
	// Sequence is the position of the entry in the log, counted across all
	// execution segments of the slip.
	Sequence    int           `json:"sequence"`
	ExecutionID ExecutionID   `json:"execution_id"`
	Activity    ActivitySpec  `json:"activity"`
	Timestamp   time.Time     `json:"timestamp"`
	Duration    time.Duration `json:"duration"`
	Attempts    int           `json:"attempts"`
	// Variables is the bag as it was right after this activity's changes were
	// merged. Compensation receives this snapshot.
	Variables *Variables  `json:"variables"`
	Status    EntryStatus `json:"status"`
	// Error holds the reason of a failed compensation.
	Error string `json:"error,omitempty"`
}

func (e LogEntry) clone() LogEntry {
	e.Activity = e.Activity.Clone()
	e.Variables = e.Variables.Clone()
	return e
}

func (e *LogEntry) transition(want EntryStatus) error {
	next, err := e.Status.next(want)
	if err != nil {
		return fmt.Errorf("entry %d (%s): %w", e.Sequence, e.Activity.Name, err)
	}
	e.Status = next
	return nil
}

// String implements the fmt.Stringer interface for LogEntry.
func (e LogEntry) String() string {
	if e.Error != "" {
		return fmt.Sprintf("N%03d %s %s: %s", e.Sequence, e.Activity.Name, e.Status, e.Error)
	}
	return fmt.Sprintf("N%03d %s %s", e.Sequence, e.Activity.Name, e.Status)
}

// FormatLog renders a log for humans, one entry per line.
func FormatLog(trackingNumber TrackingNumber, entries []LogEntry) string {
	var sb strings.Builder
	sb.WriteString("ROUTING SLIP LOG:\n")
	sb.WriteString(fmt.Sprintf("tracking number: %s\n", trackingNumber))
	sb.WriteString(fmt.Sprintf("entries (%d total):\n", len(entries)))
	sb.WriteString("\n")
	for _, entry := range entries {
		sb.WriteString(entry.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
