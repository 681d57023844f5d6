package routingslip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// ErrSlipInFlight is returned when a slip is already being driven by this
// engine.
var ErrSlipInFlight = errors.New("routing slip is already executing")

// Engine carries routing slips through their itineraries. One Engine can
// drive many slips concurrently; each slip is processed sequentially.
type Engine struct {
	registry  *ActivityRegistry
	logger    *slog.Logger
	publisher EventPublisher
	store     Store
	metrics   *Metrics
	now       func() time.Time

	retry               RetryPolicy
	activityTimeout     time.Duration
	compensationTimeout time.Duration
	interruptible       bool

	owner         string
	leaseTTL      time.Duration
	maxConcurrent int

	inFlight *xsync.MapOf[TrackingNumber, struct{}]
}

// NewEngine creates an engine resolving activities through registry.
func NewEngine(registry *ActivityRegistry, opts ...Option) *Engine {
	e := &Engine{
		registry:            registry,
		logger:              discardLogger(),
		publisher:           NopPublisher{},
		now:                 time.Now,
		retry:               DefaultRetryPolicy(),
		compensationTimeout: defaultCompensationTimeout,
		owner:               defaultOwner(),
		leaseTTL:            defaultLeaseTTL,
		inFlight:            xsync.NewMapOf[TrackingNumber, struct{}](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's activity registry.
func (e *Engine) Registry() *ActivityRegistry {
	return e.registry
}

// Outcome summarises one call to Execute, Resume or RetryCompensation.
type Outcome struct {
	TrackingNumber TrackingNumber
	ExecutionID    ExecutionID
	Status         SlipStatus
	Variables      *Variables
	// Events lists every event published during the call, in order.
	Events []Event
}

// Terminal returns the terminal event published during the call, if any.
func (o Outcome) Terminal() Event {
	if len(o.Events) == 0 {
		return nil
	}
	last := o.Events[len(o.Events)-1]
	if last.EventType() == EventRevised {
		return nil
	}
	return last
}

// Execute runs slip until it completes or has been compensated. It returns nil
// when the slip completed, a *FaultError when it faulted and was compensated,
// and a *CompensationError when compensation failed. A slip left compensating
// by an earlier run is compensated.
func (e *Engine) Execute(ctx context.Context, slip *RoutingSlip) (Outcome, error) {
	if slip == nil {
		return Outcome{}, fmt.Errorf("routing slip must not be nil")
	}
	if status := slip.Status(); status.Terminal() {
		return outcomeOf(slip.Snapshot(), nil), fmt.Errorf("%w: %s is %s", ErrSlipTerminal, slip.TrackingNumber(), status)
	}
	return e.drive(ctx, slip, (*run).forward)
}

// ExecuteAll executes slips concurrently, at most WithMaxConcurrentSlips at a
// time. Outcomes are returned in the order of slips; the error aggregates the
// error of every slip that did not complete.
func (e *Engine) ExecuteAll(ctx context.Context, slips []*RoutingSlip) ([]Outcome, error) {
	outcomes := make([]Outcome, len(slips))
	errs := make([]error, len(slips))

	var g errgroup.Group
	if e.maxConcurrent > 0 {
		g.SetLimit(e.maxConcurrent)
	}
	for i, slip := range slips {
		g.Go(func() error {
			outcomes[i], errs[i] = e.Execute(ctx, slip)
			return nil
		})
	}
	_ = g.Wait()

	var result *multierror.Error
	for _, err := range errs {
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return outcomes, result.ErrorOrNil()
}

// Load restores a persisted slip.
func (e *Engine) Load(ctx context.Context, trackingNumber TrackingNumber) (*RoutingSlip, error) {
	if e.store == nil {
		return nil, fmt.Errorf("loading routing slip %s: engine has no store", trackingNumber)
	}
	state, err := e.store.Load(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	return RestoreRoutingSlip(e.registry, *state)
}

// Resume continues a persisted slip from its last saved step: forward if it
// was running, or the remaining compensation if it was compensating. For a
// terminal slip the recorded outcome is returned and nothing is published.
func (e *Engine) Resume(ctx context.Context, trackingNumber TrackingNumber) (Outcome, error) {
	if e.store == nil {
		return Outcome{}, fmt.Errorf("resuming routing slip %s: engine has no store", trackingNumber)
	}
	state, err := e.store.Load(ctx, trackingNumber)
	if err != nil {
		return Outcome{}, err
	}
	if state.Status.Terminal() {
		return outcomeOf(*state, nil), recordedError(*state)
	}

	slip, err := RestoreRoutingSlip(e.registry, *state)
	if err != nil {
		return outcomeOf(*state, nil), err
	}
	e.logger.Info("resuming routing slip",
		"tracking_number", trackingNumber.String(),
		"execution_id", state.ExecutionID.String(),
		"status", state.Status.String())
	return e.Execute(ctx, slip)
}

// RetryCompensation retries the failed compensation of slip and continues
// unwinding the log from there. It is the operator's way out of
// CompensationFailed.
func (e *Engine) RetryCompensation(ctx context.Context, slip *RoutingSlip) (Outcome, error) {
	if slip == nil {
		return Outcome{}, fmt.Errorf("routing slip must not be nil")
	}
	if status := slip.Status(); status != SlipCompensationFailed {
		return outcomeOf(slip.Snapshot(), nil), fmt.Errorf("routing slip %s has no failed compensation (status %s)", slip.TrackingNumber(), status)
	}
	return e.drive(ctx, slip, func(r *run, _ context.Context) error {
		return r.slip.reopenCompensation()
	})
}

// drive takes ownership of slip, runs step and then compensation if the slip
// faulted, and publishes the terminal event.
func (e *Engine) drive(ctx context.Context, slip *RoutingSlip, step func(*run, context.Context) error) (Outcome, error) {
	trackingNumber := slip.TrackingNumber()
	if _, loaded := e.inFlight.LoadOrStore(trackingNumber, struct{}{}); loaded {
		return Outcome{TrackingNumber: trackingNumber}, fmt.Errorf("%w: %s", ErrSlipInFlight, trackingNumber)
	}
	defer e.inFlight.Delete(trackingNumber)

	slip.setClock(e.now)
	r := &run{
		engine: e,
		slip:   slip,
		logger: e.logger.With("tracking_number", trackingNumber.String()),
	}

	if err := r.acquire(ctx); err != nil {
		return outcomeOf(slip.Snapshot(), nil), err
	}
	defer r.release()
	if err := r.claim(ctx); err != nil {
		return outcomeOf(slip.Snapshot(), nil), err
	}

	e.metrics.slipStarted()
	defer func() { e.metrics.slipFinished(slip.Status(), e.now().Sub(slip.CreatedAt())) }()

	if err := r.persist(ctx); err != nil {
		return r.outcome(), err
	}
	if err := step(r, ctx); err != nil {
		return r.outcome(), err
	}

	var compErr error
	if slip.Status() == SlipCompensating {
		compensator := NewCompensator(e.registry, e.logger, e.compensationTimeout)
		compensator.metrics = e.metrics
		compensator.persist = r.persist
		compErr = compensator.Compensate(ctx, slip)

		var ce *CompensationError
		if compErr != nil && !errors.As(compErr, &ce) {
			return r.outcome(), compErr
		}
	}

	return r.finish(ctx, compErr)
}

// run is the state of one engine call on one slip.
type run struct {
	engine *Engine
	slip   *RoutingSlip
	logger *slog.Logger

	lease  Lease
	leased bool

	// cause is the error behind the slip's fault, when it happened during
	// this run.
	cause      error
	events     []Event
	publishErr *multierror.Error
}

// forward executes activities until the itinerary is exhausted or the slip
// faults.
func (r *run) forward(ctx context.Context) error {
	for r.slip.Status() == SlipRunning {
		step, ok := r.slip.Advance()
		if !ok {
			if err := r.slip.MarkCompleted(); err != nil {
				return err
			}
			return r.persist(ctx)
		}

		if err := ctx.Err(); err != nil {
			r.logger.Info("routing slip cancelled", "activity", step.Activity.Name, "err", err)
			if err := r.fault(step, fmt.Errorf("%w: %w", ErrCancelled, err)); err != nil {
				return err
			}
			return r.persist(ctx)
		}

		if err := r.runStep(ctx, step); err != nil {
			return err
		}
		if err := r.persist(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) runStep(ctx context.Context, step Step) error {
	result, err := r.invoke(ctx, &step)
	switch {
	case err != nil:
		return r.fault(step, err)
	case result.IsFault():
		r.engine.metrics.activity(step.Activity.Name, "faulted", r.engine.now().Sub(step.Started))
		return r.fault(step, result.Err())
	case result.IsRevision():
		r.engine.metrics.activity(step.Activity.Name, "revised", r.engine.now().Sub(step.Started))
		return r.revise(ctx, step, result)
	default:
		r.engine.metrics.activity(step.Activity.Name, "completed", r.engine.now().Sub(step.Started))
		r.logger.Debug("activity completed",
			"activity", step.Activity.Name,
			"execution_id", step.ExecutionID.String(),
			"attempt", step.Attempts)
		return r.slip.RecordSuccess(step, result.Variables())
	}
}

func (r *run) fault(step Step, cause error) error {
	r.logger.Warn("activity faulted",
		"activity", step.Activity.Name,
		"execution_id", step.ExecutionID.String(),
		"attempt", step.Attempts,
		"err", cause)
	r.cause = cause
	return r.slip.RecordFailure(step, FaultBusiness, cause)
}

// invoke calls the step's activity, retrying infrastructure faults.
func (r *run) invoke(ctx context.Context, step *Step) (Result, error) {
	e := r.engine
	activityCtx := ctx
	if !e.interruptible {
		activityCtx = context.WithoutCancel(ctx)
	}

	step.Started = e.now()
	limit := e.retry.Attempts()
	for attempt := 1; ; attempt++ {
		step.Attempts = attempt
		r.logger.Debug("executing activity",
			"activity", step.Activity.Name,
			"execution_id", step.ExecutionID.String(),
			"attempt", attempt)

		result, err := r.call(activityCtx, *step, attempt)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			e.metrics.activity(step.Activity.Name, "failed", e.now().Sub(step.Started))
			return Result{}, err
		}
		if attempt >= limit {
			e.metrics.activity(step.Activity.Name, "failed", e.now().Sub(step.Started))
			return Result{}, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		e.metrics.retry(step.Activity.Name)
		r.logger.Warn("retrying activity",
			"activity", step.Activity.Name,
			"attempt", attempt,
			"backoff", e.retry.Backoff(attempt),
			"err", err)
		if werr := e.retry.wait(ctx, attempt); werr != nil {
			e.metrics.activity(step.Activity.Name, "failed", e.now().Sub(step.Started))
			return Result{}, fmt.Errorf("%w while retrying: %w", ErrCancelled, err)
		}
	}
}

func (r *run) call(ctx context.Context, step Step, attempt int) (Result, error) {
	ectx := ExecuteContext{
		TrackingNumber: r.slip.TrackingNumber(),
		ExecutionID:    step.ExecutionID,
		Activity:       step.Activity.Clone(),
		Arguments:      step.Activity.Arguments.Clone(),
		Variables:      r.slip.Variables(),
		Attempt:        attempt,
		Started:        step.Started,
	}
	return bounded(ctx, r.engine.activityTimeout, func(ctx context.Context) (Result, error) {
		return step.activity.Execute(ctx, ectx)
	})
}

// revise applies the revision returned by step. A revision that names
// unregistered activities faults the slip after the revising activity.
func (r *run) revise(ctx context.Context, step Step, result Result) error {
	revision, err := r.engine.registry.Itinerary(result.itinerary...)
	if err != nil {
		if rerr := r.slip.RecordSuccess(step, result.Variables()); rerr != nil {
			return rerr
		}
		log := r.slip.Log()
		r.logger.Warn("invalid itinerary revision",
			"activity", step.Activity.Name,
			"execution_id", step.ExecutionID.String(),
			"err", err)
		r.cause = err
		return r.slip.FailAfter(log[len(log)-1], FaultProtocol, err)
	}

	discarded, err := r.slip.Revise(step, result.Variables(), result.mode, revision)
	if err != nil {
		return err
	}
	state := r.slip.Snapshot()
	r.logger.Info("itinerary revised",
		"activity", step.Activity.Name,
		"execution_id", state.ExecutionID.String(),
		"mode", result.mode.String(),
		"added", revision.Len(),
		"discarded", len(discarded))

	now := r.engine.now()
	r.publish(ctx, RoutingSlipRevised{
		TrackingNumber:     state.TrackingNumber,
		ExecutionID:        state.ExecutionID,
		Timestamp:          now,
		Duration:           now.Sub(state.CreatedAt),
		Variables:          state.Variables,
		Itinerary:          state.Itinerary,
		DiscardedItinerary: discarded,
		RevisedBy:          step.Activity,
		Mode:               result.mode.String(),
	})
	return nil
}

// finish publishes the terminal event and builds the outcome.
func (r *run) finish(ctx context.Context, compErr error) (Outcome, error) {
	state := r.slip.Snapshot()
	now := r.engine.now()
	duration := now.Sub(state.CreatedAt)

	var err error
	switch state.Status {
	case SlipCompleted:
		timestamp := now
		if len(state.Log) == 0 {
			timestamp, duration = state.CreatedAt, 0
		}
		r.logger.Info("routing slip completed", "execution_id", state.ExecutionID.String(), "duration", duration)
		r.publish(ctx, RoutingSlipCompleted{
			TrackingNumber: state.TrackingNumber,
			ExecutionID:    state.ExecutionID,
			Timestamp:      timestamp,
			Duration:       duration,
			Variables:      state.Variables,
		})

	case SlipFaulted:
		fault := derefFault(state.Fault)
		r.logger.Info("routing slip faulted and compensated",
			"execution_id", state.ExecutionID.String(),
			"activity", fault.Activity.Name,
			"compensated", len(compensatedOf(state.Log)))
		r.publish(ctx, RoutingSlipFaulted{
			TrackingNumber:     state.TrackingNumber,
			ExecutionID:        state.ExecutionID,
			Timestamp:          now,
			Duration:           duration,
			Variables:          state.Variables,
			FaultedActivity:    fault,
			DiscardedItinerary: state.Discarded,
			Compensated:        compensatedOf(state.Log),
		})
		err = r.faultError(state)

	case SlipCompensationFailed:
		fault := derefFault(state.Fault)
		pending := pendingOf(state.Log)
		var failed LogEntry
		if len(pending) > 0 {
			failed = pending[0]
		}
		r.publish(ctx, RoutingSlipCompensationFailed{
			TrackingNumber:       state.TrackingNumber,
			ExecutionID:          state.ExecutionID,
			Timestamp:            now,
			Duration:             duration,
			Variables:            state.Variables,
			FaultedActivity:      fault,
			CompensatingActivity: failed.Activity,
			Reason:               failed.Error,
			DiscardedItinerary:   state.Discarded,
			Compensated:          compensatedOf(state.Log),
			PendingCompensation:  specsOfLog(pending),
		})

		var ce *CompensationError
		if errors.As(compErr, &ce) {
			if r.cause != nil {
				ce.Cause = r.cause
			}
			err = ce
		} else {
			err = recordedError(state)
		}
	}

	if perr := r.publishErr.ErrorOrNil(); perr != nil {
		if err == nil {
			err = perr
		} else {
			err = multierror.Append(err, perr)
		}
	}
	return r.outcome(), err
}

func (r *run) faultError(state SlipState) error {
	fault := derefFault(state.Fault)
	cause := r.cause
	if cause == nil {
		cause = errors.New(fault.Reason)
	}
	return &FaultError{
		TrackingNumber: state.TrackingNumber,
		Activity:       fault.Activity.Name,
		Kind:           fault.Kind,
		error:          cause,
	}
}

func (r *run) publish(ctx context.Context, ev Event) {
	r.engine.metrics.event(ev.EventType())
	r.events = append(r.events, CloneEvent(ev))
	if err := r.engine.publisher.Publish(context.WithoutCancel(ctx), CloneEvent(ev)); err != nil {
		r.logger.Error("failed to publish event", "event", string(ev.EventType()), "err", err)
		r.publishErr = multierror.Append(r.publishErr, fmt.Errorf("publish %s: %w", ev.EventType(), err))
	}
}

func (r *run) outcome() Outcome {
	return outcomeOf(r.slip.Snapshot(), r.events)
}

func (r *run) acquire(ctx context.Context) error {
	store := r.engine.store
	if store == nil {
		return nil
	}
	lease, err := store.Acquire(ctx, r.slip.TrackingNumber(), r.engine.owner, r.engine.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease on routing slip %s: %w", r.slip.TrackingNumber(), err)
	}
	r.lease, r.leased = lease, true
	return nil
}

// persist saves the slip, renewing the lease once half of it has elapsed.
func (r *run) persist(ctx context.Context) error {
	store := r.engine.store
	if store == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	if time.Until(r.lease.ExpiresAt) < r.engine.leaseTTL/2 {
		lease, err := store.Acquire(ctx, r.slip.TrackingNumber(), r.engine.owner, r.engine.leaseTTL)
		if err != nil {
			r.leased = false
			return fmt.Errorf("%w: renew: %w", ErrLeaseLost, err)
		}
		r.lease = lease
	}

	if err := store.Save(ctx, r.slip.Snapshot(), r.lease); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			r.leased = false
		}
		return fmt.Errorf("persist routing slip %s: %w", r.slip.TrackingNumber(), err)
	}
	r.slip.markStored()
	return nil
}

// claim rejects a slip that was never saved when its tracking number is
// already in the store. Callers hold the lease.
func (r *run) claim(ctx context.Context) error {
	store := r.engine.store
	if store == nil || r.slip.isStored() {
		return nil
	}
	trackingNumber := r.slip.TrackingNumber()
	_, err := store.Load(ctx, trackingNumber)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrSlipExists, trackingNumber)
	case errors.Is(err, ErrSlipNotFound):
		return nil
	default:
		return fmt.Errorf("check routing slip %s: %w", trackingNumber, err)
	}
}

func (r *run) release() {
	if !r.leased {
		return
	}
	if err := r.engine.store.Release(context.Background(), r.lease); err != nil {
		r.logger.Warn("failed to release lease", "token", r.lease.Token, "err", err)
	}
	r.leased = false
}

// bounded calls fn with a timeout, converting panics into errors. An
// activity that ignores its context keeps running after the timeout, but its
// result is discarded.
func bounded[T any](parent context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	type reply struct {
		value T
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- reply{err: fmt.Errorf("%w: %v", ErrActivityPanicked, p)}
			}
		}()
		value, err := fn(ctx)
		done <- reply{value: value, err: err}
	}()

	timedOut := func() bool {
		return timeout > 0 && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
	}

	select {
	case rep := <-done:
		switch {
		case rep.err == nil:
		case timedOut():
			return rep.value, fmt.Errorf("%w after %s: %w", ErrActivityTimeout, timeout, rep.err)
		case parent.Err() != nil && errors.Is(rep.err, context.Canceled) && !errors.Is(rep.err, ErrCancelled):
			return rep.value, fmt.Errorf("%w: %w", ErrCancelled, rep.err)
		}
		return rep.value, rep.err
	case <-ctx.Done():
		var zero T
		if timedOut() {
			return zero, fmt.Errorf("%w after %s", ErrActivityTimeout, timeout)
		}
		return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

func outcomeOf(state SlipState, events []Event) Outcome {
	return Outcome{
		TrackingNumber: state.TrackingNumber,
		ExecutionID:    state.ExecutionID,
		Status:         state.Status,
		Variables:      state.Variables,
		Events:         events,
	}
}

// recordedError rebuilds the error of a terminal slip from its saved state.
func recordedError(state SlipState) error {
	switch state.Status {
	case SlipFaulted:
		fault := derefFault(state.Fault)
		return &FaultError{
			TrackingNumber: state.TrackingNumber,
			Activity:       fault.Activity.Name,
			Kind:           fault.Kind,
			error:          errors.New(fault.Reason),
		}
	case SlipCompensationFailed:
		fault := derefFault(state.Fault)
		var failed LogEntry
		if pending := pendingOf(state.Log); len(pending) > 0 {
			failed = pending[0]
		}
		return &CompensationError{
			TrackingNumber: state.TrackingNumber,
			Activity:       failed.Activity.Name,
			Cause:          errors.New(fault.Reason),
			error:          errors.New(failed.Error),
		}
	}
	return nil
}

func derefFault(fault *ActivityFault) ActivityFault {
	if fault == nil {
		return ActivityFault{}
	}
	return *fault.clone()
}

// compensatedOf returns the compensated activities in compensation order.
func compensatedOf(log []LogEntry) []ActivitySpec {
	out := []ActivitySpec{}
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Status == EntryCompensated {
			out = append(out, log[i].Activity.Clone())
		}
	}
	return out
}

// pendingOf returns the entries still awaiting compensation, starting from
// the tail of the log.
func pendingOf(log []LogEntry) []LogEntry {
	var out []LogEntry
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Status != EntryCompensated {
			out = append(out, log[i].clone())
		}
	}
	return out
}

func specsOfLog(entries []LogEntry) []ActivitySpec {
	out := make([]ActivitySpec, len(entries))
	for i, entry := range entries {
		out[i] = entry.Activity.Clone()
	}
	return out
}
