// Package demo provides the activities available to itineraries run by the
// routingslip command. They provision mock resources and exercise the
// engine's fault, retry and revision paths.
package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fortressi/routingslip"
	"github.com/fortressi/routingslip/internal/logging"
	"github.com/google/uuid"
)

// Register adds every demo activity to registry.
func Register(registry *routingslip.ActivityRegistry, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	activities := []routingslip.Activity{
		Resource("create_database", "db", logger),
		Resource("create_server", "server", logger),
		Resource("create_loadbalancer", "lb", logger),
		Set(),
		Fail(),
		Flaky(),
		Sleep(),
		Revise(),
		Brittle(logger),
	}
	for _, activity := range activities {
		if err := registry.Register(activity); err != nil {
			return err
		}
	}
	return nil
}

// Resource creates a mock resource and records its id in the variable
// "<kind>_id". Compensation deletes the resource recorded in the snapshot.
func Resource(name routingslip.ActivityName, kind string, logger *slog.Logger) *routingslip.ActivityFunc {
	key := kind + "_id"
	return routingslip.NewActivityFunc(name,
		func(ctx context.Context, ectx routingslip.ExecuteContext) (routingslip.Result, error) {
			id := fmt.Sprintf("%s-%s", kind, uuid.New().String()[:8])
			logger.InfoContext(ctx, "created resource",
				"tracking_number", ectx.TrackingNumber.String(),
				"kind", kind,
				"id", id)
			out := routingslip.NewVariables()
			out.Set(key, routingslip.String(id))
			return routingslip.Complete(out), nil
		},
		func(ctx context.Context, cctx routingslip.CompensateContext) error {
			value, ok := cctx.Variables.Get(key)
			if !ok {
				return fmt.Errorf("%s: variable %s not found", name, key)
			}
			id, _ := value.AsString()
			logger.InfoContext(ctx, "deleted resource",
				"tracking_number", cctx.TrackingNumber.String(),
				"kind", kind,
				"id", id)
			return nil
		},
	)
}

// Set writes its arguments into the slip variables.
func Set() *routingslip.ActivityFunc {
	return routingslip.NewExecuteOnlyActivity("set",
		func(_ context.Context, ectx routingslip.ExecuteContext) (routingslip.Result, error) {
			return routingslip.Complete(ectx.Arguments.Clone()), nil
		})
}

type failArgs struct {
	Reason string `mapstructure:"reason"`
}

// Fail always faults with the "reason" argument.
func Fail() *routingslip.ActivityFunc {
	return routingslip.NewExecuteOnlyActivity("fail",
		func(_ context.Context, ectx routingslip.ExecuteContext) (routingslip.Result, error) {
			var args failArgs
			if err := ectx.DecodeArguments(&args); err != nil {
				return routingslip.Result{}, err
			}
			if args.Reason == "" {
				args.Reason = "requested failure"
			}
			return routingslip.Fault(errors.New(args.Reason)), nil
		})
}

type flakyArgs struct {
	Failures int `mapstructure:"failures"`
}

// Flaky reports an infrastructure fault on its first "failures" attempts and
// then completes, recording the attempt that succeeded.
func Flaky() *routingslip.ActivityFunc {
	return routingslip.NewExecuteOnlyActivity("flaky",
		func(_ context.Context, ectx routingslip.ExecuteContext) (routingslip.Result, error) {
			var args flakyArgs
			if err := ectx.DecodeArguments(&args); err != nil {
				return routingslip.Result{}, err
			}
			if ectx.Attempt <= args.Failures {
				return routingslip.Result{}, routingslip.Retryable(fmt.Errorf("attempt %d of %d failed", ectx.Attempt, args.Failures+1))
			}
			out := routingslip.NewVariables()
			out.Set("flaky_attempts", routingslip.Int(int64(ectx.Attempt)))
			return routingslip.Complete(out), nil
		})
}

type sleepArgs struct {
	Duration time.Duration `mapstructure:"duration"`
}

// Sleep waits for the "duration" argument or until its context is done.
func Sleep() *routingslip.ActivityFunc {
	return routingslip.NewExecuteOnlyActivity("sleep",
		func(ctx context.Context, ectx routingslip.ExecuteContext) (routingslip.Result, error) {
			var args sleepArgs
			if err := ectx.DecodeArguments(&args); err != nil {
				return routingslip.Result{}, err
			}
			timer := time.NewTimer(args.Duration)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return routingslip.Result{}, ctx.Err()
			case <-timer.C:
				return routingslip.Complete(nil), nil
			}
		})
}

type reviseArgs struct {
	Insert  []string `mapstructure:"insert"`
	Replace []string `mapstructure:"replace"`
}

// Revise changes the remaining itinerary. Activities named in "replace"
// replace the remainder; otherwise those named in "insert" run next.
func Revise() *routingslip.ActivityFunc {
	return routingslip.NewExecuteOnlyActivity("revise",
		func(_ context.Context, ectx routingslip.ExecuteContext) (routingslip.Result, error) {
			var args reviseArgs
			if err := ectx.DecodeArguments(&args); err != nil {
				return routingslip.Result{}, err
			}
			mode, names := routingslip.Insert, args.Insert
			if len(args.Replace) > 0 {
				mode, names = routingslip.Replace, args.Replace
			}
			specs := make([]routingslip.ActivitySpec, len(names))
			for i, name := range names {
				specs[i] = routingslip.ActivitySpec{Name: routingslip.ActivityName(name)}
			}
			return routingslip.Revise(mode, nil, specs...), nil
		})
}

// Brittle completes but cannot be compensated. It leaves a faulted slip
// CompensationFailed.
func Brittle(logger *slog.Logger) *routingslip.ActivityFunc {
	return routingslip.NewActivityFunc("brittle",
		func(context.Context, routingslip.ExecuteContext) (routingslip.Result, error) {
			return routingslip.Complete(nil), nil
		},
		func(ctx context.Context, cctx routingslip.CompensateContext) error {
			logger.WarnContext(ctx, "refusing to compensate", "tracking_number", cctx.TrackingNumber.String())
			return errors.New("brittle activity cannot be undone")
		},
	)
}
