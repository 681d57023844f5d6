package routingslip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Compensator unwinds the execution log of a faulted slip. Entries are
// compensated from the tail, each with the variables snapshot recorded when
// its activity completed. The first failing compensation stops the unwinding
// and leaves the slip CompensationFailed; it is never retried automatically.
type Compensator struct {
	registry *ActivityRegistry
	logger   *slog.Logger
	metrics  *Metrics
	timeout  time.Duration
	persist  func(ctx context.Context) error
}

// NewCompensator creates a Compensator resolving activities through registry.
// timeout bounds each compensating action; zero disables it.
func NewCompensator(registry *ActivityRegistry, logger *slog.Logger, timeout time.Duration) *Compensator {
	if logger == nil {
		logger = discardLogger()
	}
	return &Compensator{
		registry: registry,
		logger:   logger,
		timeout:  timeout,
		persist:  func(context.Context) error { return nil },
	}
}

// Compensate unwinds slip, which must be compensating. Entries already
// compensated by an earlier run are skipped. On failure the returned error is
// a *CompensationError.
func (c *Compensator) Compensate(ctx context.Context, slip *RoutingSlip) error {
	if status := slip.Status(); status != SlipCompensating {
		return fmt.Errorf("routing slip %s is not compensating (status %s)", slip.TrackingNumber(), status)
	}
	// Compensation always runs to its end once started.
	ctx = context.WithoutCancel(ctx)

	logger := c.logger.With("tracking_number", slip.TrackingNumber().String())
	for {
		i, entry := slip.pendingCompensation()
		if i < 0 {
			slip.markFaulted()
			return c.persist(ctx)
		}

		if entry.Status != EntryCompensating {
			if err := slip.transitionEntry(i, EntryCompensating, ""); err != nil {
				return err
			}
			if err := c.persist(ctx); err != nil {
				return err
			}
		}

		logger.Debug("compensating activity",
			"activity", entry.Activity.Name,
			"execution_id", entry.ExecutionID.String(),
			"sequence", entry.Sequence)

		if err := c.invoke(ctx, slip, entry); err != nil {
			c.metrics.compensation(entry.Activity.Name, "failed")
			logger.Error("compensation failed",
				"activity", entry.Activity.Name,
				"sequence", entry.Sequence,
				"err", err)

			if terr := slip.transitionEntry(i, EntryCompensationFailed, err.Error()); terr != nil {
				return terr
			}
			if perr := c.persist(ctx); perr != nil {
				return perr
			}

			var cause error
			if fault := slip.Fault(); fault != nil {
				cause = errors.New(fault.Reason)
			}
			return &CompensationError{
				TrackingNumber: slip.TrackingNumber(),
				Activity:       entry.Activity.Name,
				Cause:          cause,
				error:          err,
			}
		}

		c.metrics.compensation(entry.Activity.Name, "compensated")
		if err := slip.transitionEntry(i, EntryCompensated, ""); err != nil {
			return err
		}
		if err := c.persist(ctx); err != nil {
			return err
		}
	}
}

func (c *Compensator) invoke(ctx context.Context, slip *RoutingSlip, entry LogEntry) error {
	activity, err := c.registry.Get(entry.Activity.Name)
	if err != nil {
		return err
	}

	cctx := CompensateContext{
		TrackingNumber: slip.TrackingNumber(),
		ExecutionID:    entry.ExecutionID,
		Activity:       entry.Activity.Clone(),
		Arguments:      entry.Activity.Arguments.Clone(),
		Variables:      entry.Variables.Clone(),
	}
	_, err = bounded(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, activity.Compensate(ctx, cctx)
	})
	return err
}
