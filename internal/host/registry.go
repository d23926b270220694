// Package host models the installation whose packages are kept up to date:
// the registry of installed packages, the host's own upgrade engine, and the
// host-owned update index with its per-actor counters.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/atomicfile"
	"github.com/obentoo/plugsync/internal/common/header"
)

var (
	ErrPackageNotFound = errors.New("package is not installed")
	ErrStateCorrupted  = errors.New("registry state file is corrupted")
)

// SingleFileSlug is the slug of a package that lives directly in the
// plugins directory without a folder of its own.
const SingleFileSlug = "."

// Package describes one installed package as the host sees it.
type Package struct {
	// ID is the main file path relative to the plugins directory, e.g. "acme-tool/acme-tool.php"
	ID string `json:"id"`
	// Slug is the directory part of ID, SingleFileSlug for single-file packages
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SlugOf returns the directory grouping of a package id.
func SlugOf(id string) string {
	return path.Dir(filepath.ToSlash(id))
}

// Registry lists installed packages and controls their active state.
type Registry interface {
	Root() string
	List(ctx context.Context) ([]Package, error)
	Get(ctx context.Context, id string) (Package, error)
	IsActive(ctx context.Context, id string) (bool, error)
	Activate(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
}

// registryState is persisted as TOML
type registryState struct {
	Active []string `toml:"active"`
}

// FSRegistry discovers packages by scanning a plugins directory for main
// files carrying the header marker. Active state lives in a TOML file.
type FSRegistry struct {
	fs        afero.Fs
	root      string
	statePath string
	marker    string
	mainExt   string
	mu        sync.Mutex
}

// RegistryOption is a functional option for configuring FSRegistry
type RegistryOption func(*FSRegistry)

// WithHeaderMarker sets the marker identifying main files
func WithHeaderMarker(marker string) RegistryOption {
	return func(r *FSRegistry) {
		if marker != "" {
			r.marker = marker
		}
	}
}

// WithMainExt sets the extension of candidate main files
func WithMainExt(ext string) RegistryOption {
	return func(r *FSRegistry) {
		if ext != "" {
			r.mainExt = ext
		}
	}
}

// NewFSRegistry creates a registry rooted at pluginsDir whose active state is
// kept in stateDir/state.toml.
func NewFSRegistry(fs afero.Fs, pluginsDir, stateDir string, opts ...RegistryOption) *FSRegistry {
	r := &FSRegistry{
		fs:        fs,
		root:      pluginsDir,
		statePath: filepath.Join(stateDir, "state.toml"),
		marker:    header.DefaultMarker,
		mainExt:   ".php",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the plugins directory.
func (r *FSRegistry) Root() string {
	return r.root
}

// List returns every installed package ordered by id.
// Folders may hold several main files; each becomes its own package.
func (r *FSRegistry) List(ctx context.Context) ([]Package, error) {
	entries, err := afero.ReadDir(r.fs, r.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var packages []Package
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if !entry.IsDir() {
			if pkg, ok := r.inspect(entry.Name()); ok {
				packages = append(packages, pkg)
			}
			continue
		}

		files, err := afero.ReadDir(r.fs, filepath.Join(r.root, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if pkg, ok := r.inspect(entry.Name() + "/" + f.Name()); ok {
				packages = append(packages, pkg)
			}
		}
	}

	sort.Slice(packages, func(i, j int) bool { return packages[i].ID < packages[j].ID })
	return packages, nil
}

// inspect reads the header of a candidate main file
func (r *FSRegistry) inspect(id string) (Package, bool) {
	if filepath.Ext(id) != r.mainExt {
		return Package{}, false
	}

	f, err := r.fs.Open(filepath.Join(r.root, filepath.FromSlash(id)))
	if err != nil {
		return Package{}, false
	}
	defer f.Close()

	h, err := header.ParseMain(f, r.marker)
	if err != nil && !errors.Is(err, header.ErrNoVersion) {
		return Package{}, false
	}

	return Package{
		ID:      id,
		Slug:    SlugOf(id),
		Name:    h.Name,
		Version: h.Version,
	}, true
}

// Get returns the installed package with the given id.
func (r *FSRegistry) Get(ctx context.Context, id string) (Package, error) {
	if pkg, ok := r.inspect(filepath.ToSlash(id)); ok {
		return pkg, nil
	}
	return Package{}, fmt.Errorf("%w: %s", ErrPackageNotFound, id)
}

// IsActive reports whether the package is marked active.
func (r *FSRegistry) IsActive(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.loadState()
	if err != nil {
		return false, err
	}
	for _, a := range st.Active {
		if a == id {
			return true, nil
		}
	}
	return false, nil
}

// Activate marks the package active. Activating an active package is a no-op.
func (r *FSRegistry) Activate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.loadState()
	if err != nil {
		return err
	}
	for _, a := range st.Active {
		if a == id {
			return nil
		}
	}
	st.Active = append(st.Active, id)
	sort.Strings(st.Active)
	return r.saveState(st)
}

// Deactivate clears the active mark of the package.
func (r *FSRegistry) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.loadState()
	if err != nil {
		return err
	}
	kept := st.Active[:0]
	for _, a := range st.Active {
		if a != id {
			kept = append(kept, a)
		}
	}
	st.Active = kept
	return r.saveState(st)
}

func (r *FSRegistry) loadState() (*registryState, error) {
	data, err := afero.ReadFile(r.fs, r.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &registryState{}, nil
		}
		return nil, err
	}

	var st registryState
	if _, err := toml.Decode(string(data), &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStateCorrupted, err)
	}
	return &st, nil
}

func (r *FSRegistry) saveState(st *registryState) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("failed to encode registry state: %w", err)
	}
	return atomicfile.WriteFile(r.fs, r.statePath, buf.Bytes(), 0644)
}
