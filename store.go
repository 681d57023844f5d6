package routingslip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrSlipNotFound is returned by Load for unknown tracking numbers.
	ErrSlipNotFound = errors.New("routing slip not found")
	// ErrSlipExists rejects a new slip whose tracking number is already
	// stored. Saved slips are continued with Engine.Resume instead.
	ErrSlipExists = errors.New("routing slip already exists")
)

// Store persists routing slips so that execution can span process restarts.
// Save is called after every step and must be atomic: a reader sees either the
// previous or the new state. Saves carrying a stale lease are rejected with
// ErrLeaseLost.
type Store interface {
	// Save persists the current slip state under the given lease.
	Save(ctx context.Context, state SlipState, lease Lease) error

	// Load retrieves a slip state by tracking number.
	Load(ctx context.Context, trackingNumber TrackingNumber) (*SlipState, error)

	// Delete removes a slip state.
	Delete(ctx context.Context, trackingNumber TrackingNumber) error

	// List returns the tracking numbers of every stored slip.
	List(ctx context.Context) ([]TrackingNumber, error)

	// Acquire takes single-writer ownership of a slip for ttl.
	Acquire(ctx context.Context, trackingNumber TrackingNumber, owner string, ttl time.Duration) (Lease, error)

	// Release gives up a lease. Releasing a stale lease is a no-op.
	Release(ctx context.Context, lease Lease) error
}

// Clone returns a deep copy of the state.
func (s SlipState) Clone() SlipState {
	s.Itinerary = cloneSpecs(s.Itinerary)
	s.Log = cloneLog(s.Log)
	s.Variables = s.Variables.Clone()
	s.Discarded = cloneSpecs(s.Discarded)
	s.Fault = s.Fault.clone()
	return s
}

// MemoryStore provides an in-memory implementation of Store for testing
// or scenarios where persistence is not required.
type MemoryStore struct {
	states *xsync.MapOf[TrackingNumber, SlipState]
	leases *leaseTable
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: xsync.NewMapOf[TrackingNumber, SlipState](),
		leases: newLeaseTable(),
	}
}

// Save stores a copy of the slip state.
func (m *MemoryStore) Save(_ context.Context, state SlipState, lease Lease) error {
	if lease.TrackingNumber != state.TrackingNumber {
		return fmt.Errorf("lease for %s cannot save %s", lease.TrackingNumber, state.TrackingNumber)
	}
	return m.leases.guard(lease, func() error {
		stateCopy := state.Clone()
		stateCopy.UpdatedAt = time.Now()
		m.states.Store(state.TrackingNumber, stateCopy)
		return nil
	})
}

// Load retrieves a copy of the slip state.
func (m *MemoryStore) Load(_ context.Context, trackingNumber TrackingNumber) (*SlipState, error) {
	state, ok := m.states.Load(trackingNumber)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlipNotFound, trackingNumber)
	}
	stateCopy := state.Clone()
	return &stateCopy, nil
}

// Delete removes the slip state from memory.
func (m *MemoryStore) Delete(_ context.Context, trackingNumber TrackingNumber) error {
	m.states.Delete(trackingNumber)
	return nil
}

// List returns the stored tracking numbers in string order.
func (m *MemoryStore) List(_ context.Context) ([]TrackingNumber, error) {
	var out []TrackingNumber
	m.states.Range(func(trackingNumber TrackingNumber, _ SlipState) bool {
		out = append(out, trackingNumber)
		return true
	})
	sortTrackingNumbers(out)
	return out, nil
}

func (m *MemoryStore) Acquire(_ context.Context, trackingNumber TrackingNumber, owner string, ttl time.Duration) (Lease, error) {
	return m.leases.acquire(trackingNumber, owner, ttl)
}

func (m *MemoryStore) Release(_ context.Context, lease Lease) error {
	m.leases.release(lease)
	return nil
}

func sortTrackingNumbers(ids []TrackingNumber) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
