package autoupdate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/atomicfile"
)

// Error variables for tracker errors
var (
	// ErrTrackerCorrupted is returned when the tracker file cannot be parsed
	ErrTrackerCorrupted = errors.New("tracker file is corrupted")
	// ErrPackageNotTracked is returned when a package has no tracker entry
	ErrPackageNotTracked = errors.New("package is not tracked")
	// ErrInvalidStatusTransition is returned when an invalid status transition is attempted
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// UpdateStatus is the lifecycle state of a tracked package.
type UpdateStatus string

const (
	// StatusDiscovered means a scan found a newer repository version
	StatusDiscovered UpdateStatus = "discovered"
	// StatusApplying means an apply is in progress
	StatusApplying UpdateStatus = "applying"
	// StatusApplied means the apply returned success
	StatusApplied UpdateStatus = "applied"
	// StatusReconciling means the update index is being scrubbed
	StatusReconciling UpdateStatus = "reconciling"
	// StatusProtected means the ledger holds the package and sweeps guard it
	StatusProtected UpdateStatus = "protected"
	// StatusReleased means the ledger entry expired
	StatusReleased UpdateStatus = "released"
	// StatusFailed means the apply failed
	StatusFailed UpdateStatus = "failed"
	// StatusAbsent means the last scan produced no descriptor
	StatusAbsent UpdateStatus = "absent"
)

// ValidStatuses returns all valid update statuses
func ValidStatuses() []UpdateStatus {
	return []UpdateStatus{
		StatusDiscovered, StatusApplying, StatusApplied, StatusReconciling,
		StatusProtected, StatusReleased, StatusFailed, StatusAbsent,
	}
}

// IsValidStatus checks if a status is valid
func IsValidStatus(s UpdateStatus) bool {
	for _, valid := range ValidStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// inFlight statuses belong to a running apply and are only left through
// the apply's own transitions.
func (s UpdateStatus) inFlight() bool {
	return s == StatusApplying || s == StatusReconciling
}

// CanTransition reports whether a package in status from may move to to.
func CanTransition(from, to UpdateStatus) bool {
	switch to {
	case StatusApplying:
		return !from.inFlight()
	case StatusApplied, StatusFailed:
		return from == StatusApplying
	case StatusReconciling:
		return from == StatusApplied
	case StatusProtected:
		return from == StatusReconciling
	case StatusReleased:
		return from == StatusProtected
	case StatusDiscovered:
		return !from.inFlight() && from != StatusApplied
	case StatusAbsent:
		return !from.inFlight()
	default:
		return false
	}
}

// TrackedUpdate is the tracker's record for one package.
type TrackedUpdate struct {
	// Package is the package id
	Package string `json:"package"`
	// Name is the display name
	Name string `json:"name,omitempty"`
	// CurrentVersion is the installed version when last observed
	CurrentVersion string `json:"current_version,omitempty"`
	// NewVersion is the repository version when last observed
	NewVersion string `json:"new_version,omitempty"`
	// Status is the current lifecycle state
	Status UpdateStatus `json:"status"`
	// DetectedAt is when the package was first tracked
	DetectedAt time.Time `json:"detected_at"`
	// UpdatedAt is when Status last changed
	UpdatedAt time.Time `json:"updated_at"`
	// Error holds the failure message when Status is failed
	Error string `json:"error,omitempty"`
}

type trackerFile struct {
	Updates map[string]TrackedUpdate `json:"updates"`
}

// Tracker persists per-package update status in the state directory. Every
// call re-reads the file before reading or changing a record.
type Tracker struct {
	fs      afero.Fs
	path    string
	nowFunc func() time.Time

	mu      sync.Mutex
	updates map[string]TrackedUpdate
}

// TrackerOption is a functional option for configuring Tracker
type TrackerOption func(*Tracker)

// WithTrackerNowFunc sets a custom time function for testing
func WithTrackerNowFunc(fn func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.nowFunc = fn
	}
}

// NewTracker loads the tracker from stateDir/tracker.json. A missing or
// corrupted file starts an empty tracker.
func NewTracker(fs afero.Fs, stateDir string, opts ...TrackerOption) (*Tracker, error) {
	if err := fs.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	t := &Tracker{
		fs:      fs,
		path:    filepath.Join(stateDir, "tracker.json"),
		nowFunc: time.Now,
		updates: make(map[string]TrackedUpdate),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.refreshUnsafe()
	return t, nil
}

func (t *Tracker) load() (map[string]TrackedUpdate, error) {
	data, err := afero.ReadFile(t.fs, t.path)
	if err != nil {
		return nil, err
	}

	var tf trackerFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrackerCorrupted, err)
	}
	if tf.Updates == nil {
		tf.Updates = make(map[string]TrackedUpdate)
	}
	return tf.Updates, nil
}

// refreshUnsafe replaces the in-memory records with the file's. A missing or
// corrupted file reads as empty; any other read error keeps what is in memory.
// Caller must hold the lock.
func (t *Tracker) refreshUnsafe() {
	updates, err := t.load()
	switch {
	case err == nil:
		t.updates = updates
	case os.IsNotExist(err), errors.Is(err, ErrTrackerCorrupted):
		t.updates = make(map[string]TrackedUpdate)
	}
}

// Get returns the record for id.
func (t *Tracker) Get(id string) (TrackedUpdate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshUnsafe()

	u, ok := t.updates[id]
	return u, ok
}

// List returns all records sorted by package id.
func (t *Tracker) List() []TrackedUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshUnsafe()

	list := make([]TrackedUpdate, 0, len(t.updates))
	for _, u := range t.updates {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Package < list[j].Package })
	return list
}

// ListByStatus returns the records in status, sorted by package id.
func (t *Tracker) ListByStatus(status UpdateStatus) []TrackedUpdate {
	var list []TrackedUpdate
	for _, u := range t.List() {
		if u.Status == status {
			list = append(list, u)
		}
	}
	return list
}

// Transition moves id to status. Untracked packages may only enter as
// discovered or applying. errMsg is kept for the failed status only.
func (t *Tracker) Transition(id string, status UpdateStatus, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshUnsafe()
	if err := t.transitionUnsafe(id, status, errMsg); err != nil {
		return err
	}
	return t.saveUnsafe()
}

func (t *Tracker) transitionUnsafe(id string, status UpdateStatus, errMsg string) error {
	if !IsValidStatus(status) {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidStatusTransition, status)
	}

	now := t.nowFunc()
	u, ok := t.updates[id]
	if !ok {
		if status != StatusDiscovered && status != StatusApplying {
			return fmt.Errorf("%w: %s", ErrPackageNotTracked, id)
		}
		u = TrackedUpdate{Package: id, DetectedAt: now}
	} else if !CanTransition(u.Status, status) {
		return fmt.Errorf("%w: %s from %s to %s", ErrInvalidStatusTransition, id, u.Status, status)
	}

	u.Status = status
	u.UpdatedAt = now
	u.Error = ""
	if status == StatusFailed {
		u.Error = errMsg
	}
	t.updates[id] = u
	return nil
}

// Observe records the result of a full scan. Every descriptor's package
// becomes discovered; every other tracked package becomes absent unless it
// is protected by the ledger or an apply is running. Packages whose current
// state forbids the move are left untouched.
func (t *Tracker) Observe(found []UpdateDescriptor) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshUnsafe()
	seen := make(map[string]bool, len(found))
	for _, d := range found {
		seen[d.PackageID] = true

		u, ok := t.updates[d.PackageID]
		if ok && u.Status == StatusDiscovered {
			u.CurrentVersion, u.NewVersion, u.Name = d.CurrentVersion, d.NewVersion, d.Name
			t.updates[d.PackageID] = u
			continue
		}
		if err := t.transitionUnsafe(d.PackageID, StatusDiscovered, ""); err != nil {
			continue
		}
		u = t.updates[d.PackageID]
		u.CurrentVersion, u.NewVersion, u.Name = d.CurrentVersion, d.NewVersion, d.Name
		t.updates[d.PackageID] = u
	}

	for id, u := range t.updates {
		if seen[id] || u.Status == StatusAbsent || u.Status == StatusProtected {
			continue
		}
		_ = t.transitionUnsafe(id, StatusAbsent, "")
	}

	return t.saveUnsafe()
}

// Interrupt marks an in-flight record as failed. It is used when an apply
// starts and finds the previous one never finished. Other records are left
// untouched.
func (t *Tracker) Interrupt(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshUnsafe()
	u, ok := t.updates[id]
	if !ok || !u.Status.inFlight() {
		return nil
	}
	u.Status = StatusFailed
	u.Error = "interrupted"
	u.UpdatedAt = t.nowFunc()
	t.updates[id] = u
	return t.saveUnsafe()
}

// Release moves the protected packages among ids to released. Others are
// skipped.
func (t *Tracker) Release(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshUnsafe()
	changed := false
	for _, id := range ids {
		if u, ok := t.updates[id]; ok && u.Status == StatusProtected {
			_ = t.transitionUnsafe(id, StatusReleased, "")
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return t.saveUnsafe()
}

// Len returns the number of tracked packages.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshUnsafe()
	return len(t.updates)
}

// saveUnsafe persists the tracker. Caller must hold the write lock.
func (t *Tracker) saveUnsafe() error {
	data, err := json.MarshalIndent(trackerFile{Updates: t.updates}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tracker: %w", err)
	}
	if err := atomicfile.WriteFile(t.fs, t.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write tracker: %w", err)
	}
	return nil
}
