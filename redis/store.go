// Package redis persists routing slips in Redis and publishes their events
// over Redis pub/sub.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fortressi/routingslip"
	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "routingslip:"

// acquireScript grants the lease unless another owner holds it. The lease
// value is "<token>:<owner>"; tokens come from a per-slip INCR counter that is
// never reset, so they only grow.
var acquireScript = backend.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local owner = string.match(current, "^%d+:(.*)$")
	if owner ~= ARGV[1] then
		return {0, current}
	end
end
local token = redis.call("INCR", KEYS[2])
redis.call("SET", KEYS[1], token .. ":" .. ARGV[1], "PX", ARGV[2])
return {1, token}
`)

// saveScript writes the slip only while the caller's token is current.
var saveScript = backend.NewScript(`
local current = redis.call("GET", KEYS[1])
if not current or string.match(current, "^(%d+):") ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[4])
return 1
`)

var releaseScript = backend.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and string.match(current, "^(%d+):") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Store implements routingslip.Store using Redis. Slips are stored as JSON
// strings, indexed by creation time in a sorted set. Leases are keys with a
// PX expiry, fenced by a monotonically increasing counter.
type Store struct {
	client *backend.Client
	prefix string
}

type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// NewClient connects to a Redis server. The client can be shared by a Store
// and a Publisher.
func NewClient(address, password string, db int) *backend.Client {
	return backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(NewClient(address, password, db), opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) slipKey(trackingNumber routingslip.TrackingNumber) string {
	return s.prefix + "slip:" + trackingNumber.String()
}

func (s *Store) leaseKey(trackingNumber routingslip.TrackingNumber) string {
	return s.prefix + "lease:" + trackingNumber.String()
}

func (s *Store) fenceKey(trackingNumber routingslip.TrackingNumber) string {
	return s.prefix + "fence:" + trackingNumber.String()
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save persists the state if lease is still current.
func (s *Store) Save(ctx context.Context, state routingslip.SlipState, lease routingslip.Lease) error {
	if lease.TrackingNumber != state.TrackingNumber {
		return fmt.Errorf("lease for %s cannot save %s", lease.TrackingNumber, state.TrackingNumber)
	}

	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	keys := []string{s.leaseKey(state.TrackingNumber), s.slipKey(state.TrackingNumber), s.indexKey()}
	ok, err := saveScript.Run(ctx, s.client, keys,
		strconv.FormatUint(lease.Token, 10),
		data,
		state.CreatedAt.UnixMilli(),
		state.TrackingNumber.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s token %d", routingslip.ErrLeaseLost, lease.TrackingNumber, lease.Token)
	}
	return nil
}

// Load retrieves the state from Redis.
func (s *Store) Load(ctx context.Context, trackingNumber routingslip.TrackingNumber) (*routingslip.SlipState, error) {
	val, err := s.client.Get(ctx, s.slipKey(trackingNumber)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", routingslip.ErrSlipNotFound, trackingNumber)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var state routingslip.SlipState
	if err := json.Unmarshal(val, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes the slip and its lease. The fencing counter is kept so that
// tokens stay monotonic if the slip is saved again.
func (s *Store) Delete(ctx context.Context, trackingNumber routingslip.TrackingNumber) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.slipKey(trackingNumber), s.leaseKey(trackingNumber))
	pipe.ZRem(ctx, s.indexKey(), trackingNumber.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// List returns the stored tracking numbers, oldest slip first.
func (s *Store) List(ctx context.Context) ([]routingslip.TrackingNumber, error) {
	members, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list slips: %w", err)
	}

	out := make([]routingslip.TrackingNumber, 0, len(members))
	for _, member := range members {
		trackingNumber, err := routingslip.ParseTrackingNumber(member)
		if err != nil {
			return nil, err
		}
		out = append(out, trackingNumber)
	}
	return out, nil
}

// Acquire takes the lease on a slip for ttl.
func (s *Store) Acquire(ctx context.Context, trackingNumber routingslip.TrackingNumber, owner string, ttl time.Duration) (routingslip.Lease, error) {
	if owner == "" {
		return routingslip.Lease{}, fmt.Errorf("lease owner must not be empty")
	}
	if ttl < time.Millisecond {
		return routingslip.Lease{}, fmt.Errorf("lease ttl must be at least 1ms")
	}

	keys := []string{s.leaseKey(trackingNumber), s.fenceKey(trackingNumber)}
	reply, err := acquireScript.Run(ctx, s.client, keys, owner, ttl.Milliseconds()).Slice()
	if err != nil {
		return routingslip.Lease{}, fmt.Errorf("redis error acquiring lease: %w", err)
	}
	if len(reply) != 2 {
		return routingslip.Lease{}, fmt.Errorf("unexpected acquire reply %v", reply)
	}

	if granted, _ := reply[0].(int64); granted == 0 {
		holder, _ := reply[1].(string)
		if _, name, ok := strings.Cut(holder, ":"); ok {
			holder = name
		}
		return routingslip.Lease{}, fmt.Errorf("%w: %s held by %s", routingslip.ErrLeaseHeld, trackingNumber, holder)
	}
	token, ok := reply[1].(int64)
	if !ok || token <= 0 {
		return routingslip.Lease{}, fmt.Errorf("unexpected fencing token %v", reply[1])
	}

	return routingslip.Lease{
		TrackingNumber: trackingNumber,
		Owner:          owner,
		Token:          uint64(token),
		ExpiresAt:      time.Now().Add(ttl),
	}, nil
}

// Release deletes the lease if it is still current.
func (s *Store) Release(ctx context.Context, lease routingslip.Lease) error {
	keys := []string{s.leaseKey(lease.TrackingNumber)}
	if err := releaseScript.Run(ctx, s.client, keys, strconv.FormatUint(lease.Token, 10)).Err(); err != nil {
		return fmt.Errorf("redis error releasing lease: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
