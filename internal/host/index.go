package host

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrIndexAbsent is returned when the host has not written its update index yet
	ErrIndexAbsent = errors.New("update index does not exist")
	// ErrIndexCorrupted is returned when the index cannot be decoded
	ErrIndexCorrupted = errors.New("update index is corrupted")
	// ErrIndexConflict is returned when the index changed between read and write
	ErrIndexConflict = errors.New("update index was modified concurrently")
)

// IndexEntry describes one package in the update index
type IndexEntry struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Plugin     string `json:"plugin"`
	NewVersion string `json:"new_version"`
	URL        string `json:"url,omitempty"`
	Package    string `json:"package,omitempty"`
}

// Index is the host's view of which packages need an update.
// Response holds packages needing an update, NoUpdate those known to be
// current; both are keyed by package id.
type Index struct {
	LastChecked time.Time             `json:"last_checked"`
	Checked     map[string]string     `json:"checked"`
	Response    map[string]IndexEntry `json:"response"`
	NoUpdate    map[string]IndexEntry `json:"no_update"`
	Revision    int64                 `json:"revision"`
}

// NewIndex returns an empty index
func NewIndex() *Index {
	ix := &Index{}
	ix.init()
	return ix
}

func (ix *Index) init() {
	if ix.Checked == nil {
		ix.Checked = make(map[string]string)
	}
	if ix.Response == nil {
		ix.Response = make(map[string]IndexEntry)
	}
	if ix.NoUpdate == nil {
		ix.NoUpdate = make(map[string]IndexEntry)
	}
}

// NeedsUpdate returns the needs-update entry for id.
func (ix *Index) NeedsUpdate(id string) (IndexEntry, bool) {
	e, ok := ix.Response[id]
	return e, ok
}

// SetNeedsUpdate records that the package has a newer version available.
func (ix *Index) SetNeedsUpdate(e IndexEntry) {
	ix.init()
	ix.Response[e.ID] = e
	delete(ix.NoUpdate, e.ID)
}

// RemoveNeedsUpdate drops id from the needs-update set and reports whether
// it was present.
func (ix *Index) RemoveNeedsUpdate(id string) bool {
	if _, ok := ix.Response[id]; !ok {
		return false
	}
	delete(ix.Response, id)
	return true
}

// SetUpToDate records the package as current.
func (ix *Index) SetUpToDate(e IndexEntry) {
	ix.init()
	ix.NoUpdate[e.ID] = e
}

// SetChecked records the installed version the host last saw for id.
func (ix *Index) SetChecked(id, version string) {
	ix.init()
	ix.Checked[id] = version
}

// PendingIDs returns the ids in the needs-update set, sorted.
func (ix *Index) PendingIDs() []string {
	ids := make([]string, 0, len(ix.Response))
	for id := range ix.Response {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UpToDateIDs returns the ids in the up-to-date set, sorted.
func (ix *Index) UpToDateIDs() []string {
	ids := make([]string, 0, len(ix.NoUpdate))
	for id := range ix.NoUpdate {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy
func (ix *Index) Clone() *Index {
	c := &Index{LastChecked: ix.LastChecked, Revision: ix.Revision}
	c.init()
	for k, v := range ix.Checked {
		c.Checked[k] = v
	}
	for k, v := range ix.Response {
		c.Response[k] = v
	}
	for k, v := range ix.NoUpdate {
		c.NoUpdate[k] = v
	}
	return c
}

// UpdateFunc mutates an index and reports whether anything changed.
// It may run more than once when a write conflicts, so it must be idempotent.
type UpdateFunc func(ix *Index) (changed bool, err error)

// UpdateIndex is the storage of the host-owned update index.
// Update never creates a missing index; it returns ErrIndexAbsent instead.
type UpdateIndex interface {
	Load(ctx context.Context) (*Index, error)
	Update(ctx context.Context, fn UpdateFunc) error
	Replace(ctx context.Context, ix *Index) error
	Close() error
}
