package routingslip

import (
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var (
	// ErrLeaseHeld is returned by Acquire while another owner holds an
	// unexpired lease on the slip.
	ErrLeaseHeld = errors.New("routing slip is leased by another owner")
	// ErrLeaseLost is returned by Save when the lease's fencing token is no
	// longer current: it expired, was released, or was taken over.
	ErrLeaseLost = errors.New("routing slip lease lost")
)

// Lease grants single-writer ownership of a persisted slip. Token is a
// fencing token: it increases every time the slip is acquired, and stores
// reject saves carrying an older token.
type Lease struct {
	TrackingNumber TrackingNumber `json:"tracking_number"`
	Owner          string         `json:"owner"`
	Token          uint64         `json:"token"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

type leaseRecord struct {
	owner     string
	token     uint64
	expiresAt time.Time
	released  bool
}

// leaseTable is an in-process lease registry shared by MemoryStore and
// FileStore.
type leaseTable struct {
	leases *xsync.MapOf[TrackingNumber, leaseRecord]
	now    func() time.Time
}

func newLeaseTable() *leaseTable {
	return &leaseTable{
		leases: xsync.NewMapOf[TrackingNumber, leaseRecord](),
		now:    time.Now,
	}
}

func (t *leaseTable) acquire(trackingNumber TrackingNumber, owner string, ttl time.Duration) (Lease, error) {
	if owner == "" {
		return Lease{}, fmt.Errorf("lease owner must not be empty")
	}
	if ttl <= 0 {
		return Lease{}, fmt.Errorf("lease ttl must be positive")
	}

	var (
		lease Lease
		err   error
	)
	t.leases.Compute(trackingNumber, func(old leaseRecord, loaded bool) (leaseRecord, bool) {
		now := t.now()
		if loaded && !old.released && old.owner != owner && now.Before(old.expiresAt) {
			err = fmt.Errorf("%w: %s held by %s", ErrLeaseHeld, trackingNumber, old.owner)
			return old, false
		}
		next := leaseRecord{owner: owner, token: old.token + 1, expiresAt: now.Add(ttl)}
		lease = Lease{TrackingNumber: trackingNumber, Owner: owner, Token: next.token, ExpiresAt: next.expiresAt}
		return next, false
	})
	return lease, err
}

// guard runs write while holding the lease entry, after verifying that lease
// is current.
func (t *leaseTable) guard(lease Lease, write func() error) error {
	var err error
	t.leases.Compute(lease.TrackingNumber, func(current leaseRecord, loaded bool) (leaseRecord, bool) {
		if !loaded || current.released || current.token != lease.Token || !t.now().Before(current.expiresAt) {
			err = fmt.Errorf("%w: %s token %d", ErrLeaseLost, lease.TrackingNumber, lease.Token)
			return current, !loaded
		}
		err = write()
		return current, false
	})
	return err
}

func (t *leaseTable) release(lease Lease) {
	t.leases.Compute(lease.TrackingNumber, func(current leaseRecord, loaded bool) (leaseRecord, bool) {
		if !loaded {
			return current, true
		}
		if current.token == lease.Token {
			current.released = true
		}
		return current, false
	})
}
