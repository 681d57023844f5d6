package routingslip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// journal records activity invocations in the order they happen.
type journal struct {
	mu    sync.Mutex
	calls []string
	// compensated holds the variables each compensation received.
	compensated map[ActivityName]*Variables
}

func newJournal() *journal {
	return &journal{compensated: make(map[ActivityName]*Variables)}
}

func (j *journal) record(call string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, call)
}

func (j *journal) Calls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

func (j *journal) count(call string) int {
	n := 0
	for _, c := range j.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (j *journal) snapshot(name ActivityName) *Variables {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.compensated[name]
}

// step returns an activity that records its calls and sets the variable
// "last" to its own name plus any fixed deltas.
func (j *journal) step(name ActivityName, deltas map[string]any) *ActivityFunc {
	return NewActivityFunc(name,
		func(_ context.Context, _ ExecuteContext) (Result, error) {
			j.record("execute:" + string(name))
			out := MustVariables(deltas)
			out.Set("last", String(string(name)))
			return Complete(out), nil
		},
		func(_ context.Context, cctx CompensateContext) error {
			j.record("compensate:" + string(name))
			j.mu.Lock()
			j.compensated[name] = cctx.Variables
			j.mu.Unlock()
			return nil
		},
	)
}

// failing returns an activity that always reports a business fault.
func (j *journal) failing(name ActivityName, reason string) *ActivityFunc {
	return NewActivityFunc(name,
		func(_ context.Context, _ ExecuteContext) (Result, error) {
			j.record("execute:" + string(name))
			return Fault(errors.New(reason)), nil
		},
		func(_ context.Context, _ CompensateContext) error {
			j.record("compensate:" + string(name))
			return nil
		},
	)
}

// irreversible returns an activity whose compensation fails the first
// failures times.
func (j *journal) irreversible(name ActivityName, failures int) *ActivityFunc {
	var mu sync.Mutex
	attempts := 0
	return NewActivityFunc(name,
		func(_ context.Context, _ ExecuteContext) (Result, error) {
			j.record("execute:" + string(name))
			return Complete(nil), nil
		},
		func(_ context.Context, _ CompensateContext) error {
			j.record("compensate:" + string(name))
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts <= failures {
				return errors.New("refund service rejected the request")
			}
			return nil
		},
	)
}

func fastRetry(limit int) RetryPolicy {
	return RetryPolicy{Limit: limit, Interval: time.Millisecond}
}

func build(t *testing.T, registry *ActivityRegistry, names ...ActivityName) *RoutingSlip {
	t.Helper()
	b := NewRoutingSlipBuilder(registry)
	for _, name := range names {
		b.AddActivity(name, nil)
	}
	slip, err := b.Build()
	require.NoError(t, err)
	return slip
}

func names(specs []ActivitySpec) []ActivityName {
	out := make([]ActivityName, len(specs))
	for i, spec := range specs {
		out[i] = spec.Name
	}
	return out
}

// countingStore fails the failAt-th call to Save.
type countingStore struct {
	Store
	mu     sync.Mutex
	saves  int
	failAt int
}

var errDiskFull = errors.New("disk full")

func (s *countingStore) Save(ctx context.Context, state SlipState, lease Lease) error {
	s.mu.Lock()
	s.saves++
	fail := s.saves == s.failAt
	s.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return s.Store.Save(ctx, state, lease)
}
