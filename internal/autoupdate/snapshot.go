package autoupdate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/atomicfile"
)

// ErrSnapshotCorrupted is returned when the snapshot file cannot be parsed
var ErrSnapshotCorrupted = errors.New("snapshot file is corrupted")

// Snapshot is the result of the last scan, kept for display.
type Snapshot struct {
	Updates     []UpdateDescriptor `json:"updates"`
	Count       int                `json:"count"`
	LastChecked time.Time          `json:"last_checked"`
}

// Age returns how long ago the snapshot was taken. A snapshot that was
// never taken is infinitely old.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s.LastChecked.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(s.LastChecked)
}

// Remove drops id from the snapshot and reports whether it was listed.
func (s *Snapshot) Remove(id string) bool {
	for i, u := range s.Updates {
		if u.PackageID == id {
			s.Updates = append(s.Updates[:i], s.Updates[i+1:]...)
			s.Count = len(s.Updates)
			return true
		}
	}
	return false
}

// SnapshotStore persists the snapshot as stateDir/available_updates.json.
type SnapshotStore struct {
	fs   afero.Fs
	path string
}

// NewSnapshotStore creates a store in stateDir.
func NewSnapshotStore(fs afero.Fs, stateDir string) *SnapshotStore {
	return &SnapshotStore{fs: fs, path: filepath.Join(stateDir, "available_updates.json")}
}

// Path returns the snapshot file path
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (s *SnapshotStore) Load() (*Snapshot, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{Updates: []UpdateDescriptor{}}, nil
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupted, err)
	}
	if snap.Updates == nil {
		snap.Updates = []UpdateDescriptor{}
	}
	return &snap, nil
}

// Save writes the snapshot, recomputing Count.
func (s *SnapshotStore) Save(snap *Snapshot) error {
	if snap.Updates == nil {
		snap.Updates = []UpdateDescriptor{}
	}
	snap.Count = len(snap.Updates)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := atomicfile.WriteFile(s.fs, s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
