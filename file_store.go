package routingslip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore provides a file-based implementation of Store that persists
// routing slips as JSON files on disk. Leases are held in process, so a
// directory must not be shared by several processes.
type FileStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
	leases   *leaseTable
}

// NewFileStore creates a new file-based store that saves slip state
// to the specified directory.
func NewFileStore(basePath string) (*FileStore, error) {
	// Ensure the base directory exists
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{
		basePath: basePath,
		leases:   newLeaseTable(),
	}, nil
}

// Save persists the slip state to a JSON file. The file is written to a
// temporary name and renamed into place.
func (f *FileStore) Save(_ context.Context, state SlipState, lease Lease) error {
	if lease.TrackingNumber != state.TrackingNumber {
		return fmt.Errorf("lease for %s cannot save %s", lease.TrackingNumber, state.TrackingNumber)
	}

	return f.leases.guard(lease, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()

		state.UpdatedAt = time.Now()
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}

		tmp, err := os.CreateTemp(f.basePath, ".slip-*.tmp")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		defer os.Remove(tmp.Name()) // no-op after a successful rename

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write state file: %w", err)
		}
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to sync state file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("failed to close state file: %w", err)
		}
		if err := os.Rename(tmp.Name(), f.filename(state.TrackingNumber)); err != nil {
			return fmt.Errorf("failed to replace state file: %w", err)
		}
		return nil
	})
}

// Load retrieves the slip state from a JSON file.
func (f *FileStore) Load(_ context.Context, trackingNumber TrackingNumber) (*SlipState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filename(trackingNumber))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSlipNotFound, trackingNumber)
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state SlipState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// Delete removes the slip state file.
func (f *FileStore) Delete(_ context.Context, trackingNumber TrackingNumber) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(trackingNumber)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Already deleted, not an error
			return nil
		}
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// List returns the tracking numbers of every state file in the directory.
func (f *FileStore) List(_ context.Context) ([]TrackingNumber, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list state files: %w", err)
	}

	var out []TrackingNumber
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if entry.IsDir() || !ok {
			continue
		}
		trackingNumber, err := ParseTrackingNumber(name)
		if err != nil {
			continue
		}
		out = append(out, trackingNumber)
	}
	sortTrackingNumbers(out)
	return out, nil
}

func (f *FileStore) Acquire(_ context.Context, trackingNumber TrackingNumber, owner string, ttl time.Duration) (Lease, error) {
	return f.leases.acquire(trackingNumber, owner, ttl)
}

func (f *FileStore) Release(_ context.Context, lease Lease) error {
	f.leases.release(lease)
	return nil
}

// filename returns the full path for a slip's state file.
func (f *FileStore) filename(trackingNumber TrackingNumber) string {
	return filepath.Join(f.basePath, trackingNumber.String()+".json")
}
