package autoupdate

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/logger"
	"github.com/obentoo/plugsync/internal/host"
)

// RepositoryEntry locates a package inside the local repository.
// ArchivePath is empty when the directory holds no archive.
type RepositoryEntry struct {
	Slug        string `json:"slug"`
	Dir         string `json:"dir"`
	ArchivePath string `json:"archive"`
}

// HasArchive reports whether an archive was found for the entry
func (e RepositoryEntry) HasArchive() bool {
	return e.ArchivePath != ""
}

// Resolver maps package slugs to repository entries.
// The expected layout is <root>/<slug>/<slug>.zip; directory names that differ
// only in case, '-' or '_' also match.
type Resolver struct {
	fs   afero.Fs
	root string
	log  *logger.Logger
}

// NewResolver creates a resolver over the repository at root.
func NewResolver(fs afero.Fs, root string, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	return &Resolver{fs: fs, root: root, log: log}
}

// Root returns the repository directory
func (r *Resolver) Root() string {
	return r.root
}

// NormalizeSlug lower-cases s and strips '-' and '_'.
func NormalizeSlug(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("-", "", "_", "").Replace(s)
}

// Find returns the repository entry for slug.
// An exact directory match wins. Otherwise top-level directories are
// compared after normalization in lexical order, preferring the first one
// that holds an archive.
func (r *Resolver) Find(slug string) (RepositoryEntry, bool) {
	if slug == "" || slug == host.SingleFileSlug || strings.ContainsAny(slug, `/\`) {
		return RepositoryEntry{}, false
	}

	exact := filepath.Join(r.root, slug)
	if ok, _ := afero.DirExists(r.fs, exact); ok {
		entry := RepositoryEntry{Slug: slug, Dir: exact, ArchivePath: r.findArchive(exact, slug)}
		r.log.Debug("resolved %s to %s", slug, exact)
		return entry, true
	}

	entries, err := afero.ReadDir(r.fs, r.root)
	if err != nil {
		r.log.Debug("cannot read repository %s: %v", r.root, err)
		return RepositoryEntry{}, false
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	want := NormalizeSlug(slug)
	var fallback *RepositoryEntry
	for _, e := range entries {
		if !e.IsDir() || NormalizeSlug(e.Name()) != want {
			continue
		}
		dir := filepath.Join(r.root, e.Name())
		entry := RepositoryEntry{Slug: slug, Dir: dir, ArchivePath: r.findArchive(dir, slug)}
		if entry.HasArchive() {
			r.log.Debug("resolved %s to %s by normalized name", slug, dir)
			return entry, true
		}
		if fallback == nil {
			fallback = &entry
		}
	}

	if fallback != nil {
		r.log.Debug("resolved %s to %s by normalized name (no archive)", slug, fallback.Dir)
		return *fallback, true
	}
	return RepositoryEntry{}, false
}

// findArchive returns <dir>/<slug>.zip, <dir>/<dirname>.zip or the first
// *.zip in dir, in that order
func (r *Resolver) findArchive(dir, slug string) string {
	candidates := []string{
		filepath.Join(dir, slug+".zip"),
		filepath.Join(dir, filepath.Base(dir)+".zip"),
	}
	for _, c := range candidates {
		if isFile(r.fs, c) {
			return c
		}
	}

	files, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return ""
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	for _, f := range files {
		if !f.IsDir() && strings.EqualFold(filepath.Ext(f.Name()), ".zip") {
			return filepath.Join(dir, f.Name())
		}
	}
	return ""
}

func isFile(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && !info.IsDir()
}
