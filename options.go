package routingslip

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLeaseTTL            = 30 * time.Second
	defaultCompensationTimeout = time.Minute
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPublisher sets the sink for lifecycle events.
func WithPublisher(publisher EventPublisher) Option {
	return func(e *Engine) {
		if publisher != nil {
			e.publisher = publisher
		}
	}
}

// WithStore persists every slip after each step. Without a store, slips live
// only in memory and cannot be resumed.
func WithStore(store Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithRetryPolicy sets the retry policy for infrastructure faults.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) {
		e.retry = policy
	}
}

// WithActivityTimeout bounds each activity invocation. Zero disables the
// timeout.
func WithActivityTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.activityTimeout = d
	}
}

// WithCompensationTimeout bounds each compensating action.
// Default: 1m
func WithCompensationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.compensationTimeout = d
	}
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock replaces time.Now for event timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithOwner names this engine when it takes leases. The default combines the
// host name, the process id and a random suffix.
func WithOwner(owner string) Option {
	return func(e *Engine) {
		if owner != "" {
			e.owner = owner
		}
	}
}

// WithLeaseTTL sets how long a lease lasts before it has to be renewed.
// Default: 30s
func WithLeaseTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.leaseTTL = ttl
		}
	}
}

// WithMaxConcurrentSlips bounds how many slips ExecuteAll runs at once. Zero
// or negative means unbounded.
func WithMaxConcurrentSlips(n int) Option {
	return func(e *Engine) {
		e.maxConcurrent = n
	}
}

// WithInterruptibleActivities passes the caller's cancellation through to
// running activities. By default cancellation is observed only between
// activities.
func WithInterruptibleActivities() Option {
	return func(e *Engine) {
		e.interruptible = true
	}
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "routingslip"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
