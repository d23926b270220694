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

// ErrLedgerCorrupted is returned when the ledger file cannot be parsed
var ErrLedgerCorrupted = errors.New("ledger file is corrupted")

// DefaultLedgerTTL is how long a recently applied package stays protected
// from a stale update index.
const DefaultLedgerTTL = 24 * time.Hour

// LedgerEntry records one successful apply.
type LedgerEntry struct {
	// Version is the version that was applied
	Version string `json:"version"`
	// AppliedAt is when the apply finished
	AppliedAt time.Time `json:"applied_at"`
}

type ledgerFile struct {
	Entries map[string]LedgerEntry `json:"entries"`
}

// Ledger is the set of recently applied packages, persisted in the state
// directory. Entries expire after TTL. The file is the source of truth: every
// call re-reads it, so several processes sharing a state directory see each
// other's entries.
type Ledger struct {
	fs      afero.Fs
	path    string
	ttl     time.Duration
	nowFunc func() time.Time

	mu      sync.Mutex
	entries map[string]LedgerEntry
}

// LedgerOption is a functional option for configuring Ledger
type LedgerOption func(*Ledger)

// WithLedgerTTL sets a custom TTL
func WithLedgerTTL(ttl time.Duration) LedgerOption {
	return func(l *Ledger) {
		l.ttl = ttl
	}
}

// WithLedgerNowFunc sets a custom time function for testing
func WithLedgerNowFunc(fn func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.nowFunc = fn
	}
}

// NewLedger loads the ledger from stateDir/ledger.json. A missing or
// corrupted file starts an empty ledger that is overwritten on the next save.
func NewLedger(fs afero.Fs, stateDir string, opts ...LedgerOption) (*Ledger, error) {
	if err := fs.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	l := &Ledger{
		fs:      fs,
		path:    filepath.Join(stateDir, "ledger.json"),
		ttl:     DefaultLedgerTTL,
		nowFunc: time.Now,
		entries: make(map[string]LedgerEntry),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.refreshUnsafe()
	return l, nil
}

func (l *Ledger) load() (map[string]LedgerEntry, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		return nil, err
	}

	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerCorrupted, err)
	}
	if lf.Entries == nil {
		lf.Entries = make(map[string]LedgerEntry)
	}
	return lf.Entries, nil
}

// refreshUnsafe replaces the in-memory entries with the file's. A missing or
// corrupted file reads as empty; any other read error keeps what is in memory.
// Caller must hold the lock.
func (l *Ledger) refreshUnsafe() {
	entries, err := l.load()
	switch {
	case err == nil:
		l.entries = entries
	case os.IsNotExist(err), errors.Is(err, ErrLedgerCorrupted):
		l.entries = make(map[string]LedgerEntry)
	}
}

// Add records id as applied now and saves the ledger.
func (l *Ledger) Add(id, version string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refreshUnsafe()
	l.entries[id] = LedgerEntry{Version: version, AppliedAt: l.nowFunc()}
	return l.saveUnsafe()
}

// Has reports whether id has an unexpired entry.
func (l *Ledger) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refreshUnsafe()

	e, ok := l.entries[id]
	return ok && !l.isExpired(e)
}

// Get returns the entry for id, expired or not.
func (l *Ledger) Get(id string) (LedgerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refreshUnsafe()

	e, ok := l.entries[id]
	return e, ok
}

// Active returns the ids of all unexpired entries, sorted.
func (l *Ledger) Active() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refreshUnsafe()

	ids := make([]string, 0, len(l.entries))
	for id, e := range l.entries {
		if !l.isExpired(e) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Prune drops expired entries and returns their ids, sorted. The ledger is
// only saved when something was dropped.
func (l *Ledger) Prune() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refreshUnsafe()
	var removed []string
	for id, e := range l.entries {
		if l.isExpired(e) {
			delete(l.entries, id)
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Strings(removed)
	return removed, l.saveUnsafe()
}

// Len returns the number of stored entries, including expired ones.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refreshUnsafe()
	return len(l.entries)
}

func (l *Ledger) isExpired(e LedgerEntry) bool {
	return l.nowFunc().Sub(e.AppliedAt) >= l.ttl
}

// saveUnsafe persists the ledger. Caller must hold the write lock.
func (l *Ledger) saveUnsafe() error {
	data, err := json.MarshalIndent(ledgerFile{Entries: l.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	if err := atomicfile.WriteFile(l.fs, l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}
