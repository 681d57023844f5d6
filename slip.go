package routingslip

import (
	"fmt"
	"sync"
	"time"

	"github.com/fortressi/routingslip/set"
)

// SlipStatus is the lifecycle state of a routing slip.
type SlipStatus int

const (
	SlipRunning SlipStatus = iota
	SlipCompensating
	SlipCompleted
	SlipFaulted
	SlipCompensationFailed
)

func (s SlipStatus) String() string {
	switch s {
	case SlipRunning:
		return "running"
	case SlipCompensating:
		return "compensating"
	case SlipCompleted:
		return "completed"
	case SlipFaulted:
		return "faulted"
	case SlipCompensationFailed:
		return "compensation_failed"
	default:
		return fmt.Sprintf("SlipStatus(%d)", int(s))
	}
}

// Terminal reports whether no further execution or compensation happens.
func (s SlipStatus) Terminal() bool {
	switch s {
	case SlipCompleted, SlipFaulted, SlipCompensationFailed:
		return true
	}
	return false
}

func (s SlipStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SlipStatus) UnmarshalText(data []byte) error {
	for _, candidate := range []SlipStatus{SlipRunning, SlipCompensating, SlipCompleted, SlipFaulted, SlipCompensationFailed} {
		if candidate.String() == string(data) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("invalid SlipStatus: %s", data)
}

// ActivityFault describes the activity at which a slip faulted.
type ActivityFault struct {
	Activity  ActivitySpec `json:"activity"`
	Kind      FaultKind    `json:"kind"`
	Reason    string       `json:"reason"`
	Attempts  int          `json:"attempts"`
	Timestamp time.Time    `json:"timestamp"`
}

func (f *ActivityFault) clone() *ActivityFault {
	if f == nil {
		return nil
	}
	out := *f
	out.Activity = f.Activity.Clone()
	return &out
}

// Step is the next activity of a slip, handed out by Advance and handed back
// to RecordSuccess, RecordFailure or Revise.
type Step struct {
	Sequence    int
	ExecutionID ExecutionID
	Activity    ActivitySpec
	// Attempts is filled in by the executor before the step is recorded.
	Attempts int
	// Started is when the first attempt began.
	Started time.Time

	activity Activity
}

type stepKey struct {
	execution ExecutionID
	sequence  int
}

// RoutingSlip is the unit-of-work envelope: identity, remaining itinerary,
// variables and execution log. Methods are safe for concurrent readers; only
// one executor should drive a slip at a time.
type RoutingSlip struct {
	mu sync.RWMutex

	trackingNumber TrackingNumber
	executionID    ExecutionID
	createdAt      time.Time
	status         SlipStatus

	itinerary []itineraryStep
	log       []LogEntry
	variables *Variables
	discarded []ActivitySpec
	fault     *ActivityFault

	recorded *set.Set[stepKey]
	now      func() time.Time

	// stored is set once the slip is known to be in the engine's store.
	stored bool
}

// NewRoutingSlip creates a slip with a fresh tracking number and execution id,
// the given itinerary and a copy of variables.
func NewRoutingSlip(itinerary Itinerary, variables *Variables) *RoutingSlip {
	return newRoutingSlip(NewTrackingNumber(), itinerary, variables, time.Now)
}

func newRoutingSlip(trackingNumber TrackingNumber, itinerary Itinerary, variables *Variables, now func() time.Time) *RoutingSlip {
	steps := cloneSteps(itinerary.steps)
	return &RoutingSlip{
		trackingNumber: trackingNumber,
		executionID:    NewExecutionID(),
		createdAt:      now(),
		status:         SlipRunning,
		itinerary:      steps,
		log:            make([]LogEntry, 0, len(steps)),
		variables:      variables.Clone(),
		recorded:       set.New[stepKey](),
		now:            now,
	}
}

func (s *RoutingSlip) setClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *RoutingSlip) isStored() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stored
}

func (s *RoutingSlip) markStored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = true
}

func (s *RoutingSlip) TrackingNumber() TrackingNumber {
	return s.trackingNumber
}

func (s *RoutingSlip) ExecutionID() ExecutionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executionID
}

func (s *RoutingSlip) CreatedAt() time.Time {
	return s.createdAt
}

func (s *RoutingSlip) Status() SlipStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Variables returns a copy of the current variables.
func (s *RoutingSlip) Variables() *Variables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.variables.Clone()
}

// Itinerary returns the activities that have not run yet.
func (s *RoutingSlip) Itinerary() []ActivitySpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return specsOf(s.itinerary)
}

// DiscardedItinerary returns the activities dropped by the latest fault or
// revision.
func (s *RoutingSlip) DiscardedItinerary() []ActivitySpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSpecs(s.discarded)
}

// Log returns a copy of the execution log in completion order.
func (s *RoutingSlip) Log() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneLog(s.log)
}

// Fault returns the fault recorded by RecordFailure, if any.
func (s *RoutingSlip) Fault() *ActivityFault {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fault.clone()
}

// Compensated returns the activities whose compensation ran, in the order it
// ran.
func (s *RoutingSlip) Compensated() []ActivitySpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ActivitySpec
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].Status == EntryCompensated {
			out = append(out, s.log[i].Activity.Clone())
		}
	}
	return out
}

func cloneLog(entries []LogEntry) []LogEntry {
	out := make([]LogEntry, len(entries))
	for i, entry := range entries {
		out[i] = entry.clone()
	}
	return out
}

// Advance returns the next activity to execute, or false when the itinerary is
// exhausted or the slip is no longer running.
func (s *RoutingSlip) Advance() (Step, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.status != SlipRunning || len(s.itinerary) == 0 {
		return Step{}, false
	}
	next := s.itinerary[0]
	return Step{
		Sequence:    len(s.log),
		ExecutionID: s.executionID,
		Activity:    next.spec.Clone(),
		activity:    next.activity,
	}, true
}

// checkStep verifies that step is the slip's next step. Caller holds mu.
func (s *RoutingSlip) checkStep(step Step) error {
	if s.status != SlipRunning {
		return fmt.Errorf("%w: status %s", ErrSlipTerminal, s.status)
	}
	if step.Sequence < len(s.log) || s.recorded.Contains(stepKey{step.ExecutionID, step.Sequence}) {
		return fmt.Errorf("%w: %s at position %d", ErrStepAlreadyRecorded, step.Activity.Name, step.Sequence)
	}
	if step.Sequence != len(s.log) || step.ExecutionID != s.executionID ||
		len(s.itinerary) == 0 || s.itinerary[0].spec.Name != step.Activity.Name {
		return fmt.Errorf("%w: %s at position %d", ErrStepOutOfOrder, step.Activity.Name, step.Sequence)
	}
	return nil
}

// record appends step to the log and merges deltas. Caller holds mu and has
// checked the step.
func (s *RoutingSlip) record(step Step, deltas *Variables) {
	now := s.now()
	s.variables.Merge(deltas)

	started := step.Started
	if started.IsZero() {
		started = now
	}
	attempts := step.Attempts
	if attempts == 0 {
		attempts = 1
	}
	s.log = append(s.log, LogEntry{
		Sequence:    step.Sequence,
		ExecutionID: step.ExecutionID,
		Activity:    s.itinerary[0].spec.Clone(),
		Timestamp:   now,
		Duration:    now.Sub(started),
		Attempts:    attempts,
		Variables:   s.variables.Clone(),
		Status:      EntryCompleted,
	})
	s.recorded.Insert(stepKey{step.ExecutionID, step.Sequence})
	s.itinerary = s.itinerary[1:]
}

// RecordSuccess appends step to the log, merges deltas into the variables and
// advances the cursor. A step that was already recorded is rejected with
// ErrStepAlreadyRecorded.
func (s *RoutingSlip) RecordSuccess(step Step, deltas *Variables) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStep(step); err != nil {
		return err
	}
	s.record(step, deltas)
	return nil
}

// RecordFailure marks the slip faulted at step. The step and every activity
// after it become the discarded itinerary; the cursor does not advance.
func (s *RoutingSlip) RecordFailure(step Step, kind FaultKind, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStep(step); err != nil {
		return err
	}
	s.fail(step.Activity, kind, cause, step.Attempts)
	return nil
}

// fail freezes the remaining itinerary as discarded. Caller holds mu.
func (s *RoutingSlip) fail(activity ActivitySpec, kind FaultKind, cause error, attempts int) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	s.fault = &ActivityFault{
		Activity:  activity.Clone(),
		Kind:      kind,
		Reason:    reason,
		Attempts:  attempts,
		Timestamp: s.now(),
	}
	s.discarded = specsOf(s.itinerary)
	s.itinerary = nil
	s.status = SlipCompensating
}

// Revise records step as completed and then changes the remaining itinerary.
// Insert places revision ahead of the remainder; Replace discards the
// remainder. The slip gets a new execution id. The discarded activities are
// returned.
func (s *RoutingSlip) Revise(step Step, deltas *Variables, mode RevisionMode, revision Itinerary) ([]ActivitySpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStep(step); err != nil {
		return nil, err
	}
	s.record(step, deltas)

	added := cloneSteps(revision.steps)

	switch mode {
	case Replace:
		s.discarded = specsOf(s.itinerary)
		s.itinerary = added
	default:
		s.discarded = nil
		s.itinerary = append(added, s.itinerary...)
	}
	s.executionID = NewExecutionID()
	return cloneSpecs(s.discarded), nil
}

// FailAfter faults a slip at an activity that already completed, for example
// when the revision it returned could not be applied. The activity stays in
// the log and is compensated with the others.
func (s *RoutingSlip) FailAfter(entry LogEntry, kind FaultKind, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != SlipRunning {
		return fmt.Errorf("%w: status %s", ErrSlipTerminal, s.status)
	}
	s.fail(entry.Activity, kind, cause, entry.Attempts)
	return nil
}

// MarkCompleted moves a slip whose itinerary is exhausted to Completed.
func (s *RoutingSlip) MarkCompleted() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != SlipRunning {
		return fmt.Errorf("%w: status %s", ErrSlipTerminal, s.status)
	}
	if len(s.itinerary) > 0 {
		return fmt.Errorf("cannot complete routing slip %s: %d activities remain", s.trackingNumber, len(s.itinerary))
	}
	s.status = SlipCompleted
	return nil
}

// pendingCompensation returns the index of the last log entry that has not
// been compensated, or -1.
func (s *RoutingSlip) pendingCompensation() (int, LogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].Status != EntryCompensated {
			return i, s.log[i].clone()
		}
	}
	return -1, LogEntry{}
}

// transitionEntry moves the log entry at index i to status want. reason is
// kept on the entry when its compensation failed.
func (s *RoutingSlip) transitionEntry(i int, want EntryStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != SlipCompensating {
		return fmt.Errorf("routing slip %s is not compensating (status %s)", s.trackingNumber, s.status)
	}
	if err := s.log[i].transition(want); err != nil {
		return err
	}
	s.log[i].Error = reason
	if want == EntryCompensationFailed {
		s.status = SlipCompensationFailed
	}
	return nil
}

// reopenCompensation lets an operator retry a failed compensation.
func (s *RoutingSlip) reopenCompensation() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != SlipCompensationFailed {
		return fmt.Errorf("routing slip %s has no failed compensation (status %s)", s.trackingNumber, s.status)
	}
	s.status = SlipCompensating
	return nil
}

// markFaulted ends compensation once every entry has been compensated.
func (s *RoutingSlip) markFaulted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = SlipFaulted
}

// Snapshot returns a deep copy of the slip's state.
func (s *RoutingSlip) Snapshot() SlipState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SlipState{
		TrackingNumber: s.trackingNumber,
		ExecutionID:    s.executionID,
		Status:         s.status,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.now(),
		Itinerary:      specsOf(s.itinerary),
		Log:            cloneLog(s.log),
		Variables:      s.variables.Clone(),
		Discarded:      cloneSpecs(s.discarded),
		Fault:          s.fault.clone(),
	}
}

// SlipState is the serializable form of a routing slip.
type SlipState struct {
	TrackingNumber TrackingNumber `json:"tracking_number"`
	ExecutionID    ExecutionID    `json:"execution_id"`
	Status         SlipStatus     `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Itinerary      []ActivitySpec `json:"itinerary"`
	Log            []LogEntry     `json:"log"`
	Variables      *Variables     `json:"variables"`
	Discarded      []ActivitySpec `json:"discarded_itinerary,omitempty"`
	Fault          *ActivityFault `json:"fault,omitempty"`
}

// RestoreRoutingSlip rebuilds a slip from saved state, resolving its remaining
// itinerary through registry. Compensation of restored log entries also
// requires their activities to be registered.
func RestoreRoutingSlip(registry *ActivityRegistry, state SlipState) (*RoutingSlip, error) {
	if state.TrackingNumber.IsZero() {
		return nil, fmt.Errorf("saved routing slip has no tracking number")
	}
	itinerary, err := registry.Itinerary(state.Itinerary...)
	if err != nil {
		return nil, fmt.Errorf("restore routing slip %s: %w", state.TrackingNumber, err)
	}

	slip := &RoutingSlip{
		trackingNumber: state.TrackingNumber,
		executionID:    state.ExecutionID,
		createdAt:      state.CreatedAt,
		status:         state.Status,
		itinerary:      itinerary.steps,
		log:            cloneLog(state.Log),
		variables:      state.Variables.Clone(),
		discarded:      cloneSpecs(state.Discarded),
		fault:          state.Fault.clone(),
		recorded:       set.New[stepKey](),
		stored:         true,
		now:            time.Now,
	}
	for _, entry := range slip.log {
		slip.recorded.Insert(stepKey{entry.ExecutionID, entry.Sequence})
	}
	return slip, nil
}
